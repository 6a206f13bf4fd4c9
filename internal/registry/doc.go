// Package registry implements the resource registry: the coordinator's
// authoritative, in-memory table of which resources are known and when each
// was last heard from.
//
// # Consistency Rules
//
// The registry enforces three invariants:
//
//   - A record exists for an identity if and only if a registration for
//     that identity was accepted. Insert is the only creation path and
//     nothing in this package removes records.
//   - The descriptor stored by the first accepted registration is never
//     overwritten. A second Insert for the same identity reports "already
//     registered" and changes nothing.
//   - LastSeen never decreases. Touch moves it forward to the supplied
//     time, or leaves it alone if that time is older.
//
// # Concurrency Model
//
// The registry is the single serialization point of the coordinator. It is
// touched from three places:
//
//	┌──────────────┐   ┌───────────────────┐   ┌──────────────┐
//	│  run loop    │   │ transport reader  │   │ status view  │
//	│ (inline      │   │ goroutines (async │   │ (read only)  │
//	│  dispatch)   │   │  receipt path)    │   │              │
//	└──────┬───────┘   └─────────┬─────────┘   └──────┬───────┘
//	       │ Insert/Touch/Lookup │                    │ Lookup/Snapshot
//	       └──────────────┬──────┴────────────────────┘
//	                      ▼
//	              ┌───────────────┐
//	              │   Registry    │
//	              │ RWMutex + map │
//	              └───────────────┘
//
// Each operation is one short critical section over a map, so every
// operation is O(1) (Snapshot is O(n log n)) and the set of operations is
// linearizable: any concurrent history produces the same final state as
// some sequential ordering of the same calls.
//
// Records never escape by reference. Lookup and Snapshot return copies,
// Insert copies the caller's descriptor.
//
// # Example
//
//	reg := registry.New()
//	id := identity.New()
//	reg.Insert(id, descriptor, time.Now())
//	reg.Touch(id, time.Now())
//	rec, ok := reg.Lookup(id)
package registry

// Package registry holds the coordinator's authoritative table of known
// resources. See doc.go for the consistency rules.
package registry

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/herd/internal/identity"
)

// Record is what the coordinator knows about one resource.
//
// Records handed out by the registry are copies: mutating Descriptor on a
// returned Record never affects the stored state.
type Record struct {
	// Descriptor is the opaque metadata supplied with the first accepted
	// registration. It is never overwritten by later registrations.
	Descriptor []byte

	// LastSeen is when the most recent registration or heartbeat for this
	// resource was accepted. Never decreases.
	LastSeen time.Time
}

// Entry pairs an identity with a copy of its record.
type Entry struct {
	ID     identity.ID
	Record Record
}

// Registry maps resource identities to records.
//
// Every method runs inside a single critical section on mu, so concurrent
// Insert, Touch and Lookup calls from the run loop, transport goroutines
// and status views are linearizable.
type Registry struct {
	// records holds the state. Values are owned by the registry and
	// never escape uncopied.
	records map[identity.ID]*Record

	// mu protects records.
	mu sync.RWMutex
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[identity.ID]*Record)}
}

// Lookup returns a copy of the record for id.
//
// Returns:
//   - Record, true if id has registered
//   - zero Record, false otherwise
func (r *Registry) Lookup(id identity.ID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// Insert creates the record for id if none exists.
//
// The descriptor is copied, so the caller may reuse its buffer. When a
// record already exists nothing changes and false is returned; the caller
// decides what "already registered" means.
//
// Parameters:
//   - id: resource identity
//   - descriptor: opaque metadata, stored verbatim
//   - now: timestamp recorded as LastSeen
//
// Returns:
//   - true if the record was created
//   - false if id was already registered
func (r *Registry) Insert(id identity.ID, descriptor []byte, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return false
	}
	r.records[id] = &Record{
		Descriptor: bytes.Clone(descriptor),
		LastSeen:   now,
	}
	return true
}

// Touch refreshes LastSeen for id.
//
// LastSeen only moves forward: a now earlier than the stored value leaves
// it untouched but still counts as a successful touch.
//
// Returns:
//   - true if id is registered
//   - false if id is unknown; nothing is modified
func (r *Registry) Touch(id identity.ID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	return true
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns copies of all records sorted by identity string.
// The result is a consistent view taken under one read lock.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.records))
	for id, rec := range r.records {
		out = append(out, Entry{ID: id, Record: copyRecord(rec)})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func copyRecord(rec *Record) Record {
	return Record{
		Descriptor: bytes.Clone(rec.Descriptor),
		LastSeen:   rec.LastSeen,
	}
}

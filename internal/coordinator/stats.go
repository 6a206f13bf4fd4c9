package coordinator

import "sync/atomic"

type counters struct {
	registrations     atomic.Uint64
	reregistrations   atomic.Uint64
	heartbeats        atomic.Uint64
	unknownHeartbeats atomic.Uint64
	protocolErrors    atomic.Uint64
	transportErrors   atomic.Uint64
	dispatched        atomic.Uint64
	dropped           atomic.Uint64
	jobsSubmitted     atomic.Uint64
	staleResources    atomic.Uint64
}

// Stats is a point-in-time copy of the coordinator's counters. Each field
// is read atomically; the set is not a consistent snapshot.
type Stats struct {
	State             State  `json:"state"`
	Resources         int    `json:"resources"`
	Registrations     uint64 `json:"registrations"`
	Reregistrations   uint64 `json:"reregistrations"`
	Heartbeats        uint64 `json:"heartbeats"`
	UnknownHeartbeats uint64 `json:"unknown_heartbeats"`
	ProtocolErrors    uint64 `json:"protocol_errors"`
	TransportErrors   uint64 `json:"transport_errors"`
	Dispatched        uint64 `json:"dispatched"`
	Dropped           uint64 `json:"dropped_after_shutdown"`
	JobsSubmitted     uint64 `json:"jobs_submitted"`
	StaleResources    uint64 `json:"stale_transitions"`
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		State:             c.State(),
		Resources:         c.registry.Len(),
		Registrations:     c.stats.registrations.Load(),
		Reregistrations:   c.stats.reregistrations.Load(),
		Heartbeats:        c.stats.heartbeats.Load(),
		UnknownHeartbeats: c.stats.unknownHeartbeats.Load(),
		ProtocolErrors:    c.stats.protocolErrors.Load(),
		TransportErrors:   c.stats.transportErrors.Load(),
		Dispatched:        c.stats.dispatched.Load(),
		Dropped:           c.stats.dropped.Load(),
		JobsSubmitted:     c.stats.jobsSubmitted.Load(),
		StaleResources:    c.stats.staleResources.Load(),
	}
}

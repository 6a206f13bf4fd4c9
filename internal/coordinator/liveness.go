package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/identity"
)

// Liveness is a resource's classification by the liveness monitor.
type Liveness string

const (
	Alive Liveness = "alive"
	Stale Liveness = "stale"
)

// ResourceLiveness is the monitor's view of one resource.
type ResourceLiveness struct {
	LastSeen  time.Time `json:"last_seen"`  // Last-seen time from the registry
	LastCheck time.Time `json:"last_check"` // When the monitor last classified it
	ID        string    `json:"id"`
	Status    Liveness  `json:"status"`
}

// LivenessMonitor periodically classifies registered resources as alive
// or stale from their last-seen times. It only observes: stale resources
// stay in the registry, and a fresh heartbeat makes them alive again.
//
// Thread-safe: All methods are safe for concurrent access.
type LivenessMonitor struct {
	resources  map[identity.ID]*ResourceLiveness
	source     RegistryView
	clock      func() time.Time
	onStale    func(id identity.ID)
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// NewLivenessMonitor creates a monitor over source.
//
// Parameters:
//   - source: Registry to read last-seen times from
//   - interval: How often to classify resources
//   - staleAfter: How long without a heartbeat before a resource is stale
//   - log: Logger; transitions are logged at info and warn
//
// Example:
//
//	monitor := NewLivenessMonitor(c.Registry(), 5*time.Second, 30*time.Second, log)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewLivenessMonitor(source RegistryView, interval, staleAfter time.Duration, log zerolog.Logger) *LivenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		resources:  make(map[identity.ID]*ResourceLiveness),
		source:     source,
		clock:      time.Now,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("component", "liveness").Logger(),
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// SetOnStale sets a callback invoked when a resource becomes stale. It is
// called without the monitor's lock held, from the monitoring goroutine.
func (m *LivenessMonitor) SetOnStale(callback func(id identity.ID)) {
	m.mu.Lock()
	m.onStale = callback
	m.mu.Unlock()
}

// SetClock overrides the time source. Intended for tests.
func (m *LivenessMonitor) SetClock(clock func() time.Time) {
	m.mu.Lock()
	m.clock = clock
	m.mu.Unlock()
}

// StaleAfter returns the configured staleness threshold.
func (m *LivenessMonitor) StaleAfter() time.Duration { return m.staleAfter }

// Start runs the monitor in the current goroutine until ctx is cancelled
// or Stop is called. A first pass runs immediately.
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Dur("stale_after", m.staleAfter).Msg("liveness monitor started")
	m.Check()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop ends Start and waits for it to return. A Start that has not begun
// yet returns immediately.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// Check classifies every registered resource once.
//
// Implementation:
//  1. Snapshot the registry
//  2. Mark each resource alive or stale from now - LastSeen
//  3. Log transitions and collect resources that just went stale
//  4. Invoke the stale callback outside the lock
func (m *LivenessMonitor) Check() {
	entries := m.source.Snapshot()

	m.mu.Lock()
	now := m.clock()
	onStale := m.onStale
	var wentStale []identity.ID

	for _, e := range entries {
		status := Alive
		if now.Sub(e.Record.LastSeen) > m.staleAfter {
			status = Stale
		}

		rl, exists := m.resources[e.ID]
		if !exists {
			rl = &ResourceLiveness{ID: e.ID.String(), Status: status}
			m.resources[e.ID] = rl
			if status == Stale {
				wentStale = append(wentStale, e.ID)
			}
		} else if rl.Status != status {
			if status == Stale {
				wentStale = append(wentStale, e.ID)
			} else {
				m.log.Info().Str("resource", rl.ID).Msg("resource is alive again")
			}
		}
		rl.Status = status
		rl.LastSeen = e.Record.LastSeen
		rl.LastCheck = now
	}
	m.mu.Unlock()

	for _, id := range wentStale {
		m.log.Warn().Str("resource", id.String()).Dur("stale_after", m.staleAfter).Msg("resource is stale")
		if onStale != nil {
			onStale(id)
		}
	}
}

// Get returns a copy of the liveness of id, or nil if it has not been
// classified yet.
func (m *LivenessMonitor) Get(id identity.ID) *ResourceLiveness {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rl, exists := m.resources[id]
	if !exists {
		return nil
	}
	cp := *rl
	return &cp
}

// All returns copies of every classified resource keyed by identity.
func (m *LivenessMonitor) All() map[identity.ID]ResourceLiveness {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[identity.ID]ResourceLiveness, len(m.resources))
	for id, rl := range m.resources {
		out[id] = *rl
	}
	return out
}

package jobs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryLedger keeps jobs in process memory. It is the default when no
// ledger path is configured.
type MemoryLedger struct {
	byHandle map[Handle]int
	jobs     []Job
	mu       sync.RWMutex
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byHandle: make(map[Handle]int)}
}

func (m *MemoryLedger) Record(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHandle[job.Handle]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, job.Handle)
	}
	m.byHandle[job.Handle] = len(m.jobs)
	m.jobs = append(m.jobs, cloneJob(job))
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, handle Handle) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byHandle[handle]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return cloneJob(m.jobs[i]), nil
}

// List returns jobs ordered by submission time, then insertion order.
func (m *MemoryLedger) List(_ context.Context) ([]Job, error) {
	m.mu.RLock()
	out := make([]Job, len(m.jobs))
	for i, j := range m.jobs {
		out[i] = cloneJob(j)
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Job) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	return out, nil
}

// Ping always succeeds; process memory is the store.
func (m *MemoryLedger) Ping(context.Context) error { return nil }

func (m *MemoryLedger) Close() error { return nil }

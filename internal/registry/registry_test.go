package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/herd/internal/identity"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestInsertThenLookup verifies a fresh insert is visible with the supplied
// descriptor and timestamp.
func TestInsertThenLookup(t *testing.T) {
	reg := New()
	id := identity.New()

	assert.True(t, reg.Insert(id, []byte("D1"), epoch))

	rec, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, []byte("D1"), rec.Descriptor)
	assert.Equal(t, epoch, rec.LastSeen)
	assert.Equal(t, 1, reg.Len())
}

// TestInsertExistingDoesNotOverwrite verifies duplicate inserts report
// "already registered" and leave the record alone.
func TestInsertExistingDoesNotOverwrite(t *testing.T) {
	reg := New()
	id := identity.New()

	require.True(t, reg.Insert(id, []byte("D1"), epoch))
	assert.False(t, reg.Insert(id, []byte("D2"), epoch.Add(time.Minute)))

	rec, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, []byte("D1"), rec.Descriptor)
	assert.Equal(t, epoch, rec.LastSeen, "failed insert must not refresh the timestamp")
	assert.Equal(t, 1, reg.Len())
}

// TestTouch covers present, absent and backwards-in-time touches.
func TestTouch(t *testing.T) {
	tests := []struct {
		name       string
		register   bool
		touchAt    time.Time
		wantOK     bool
		wantSeenAt time.Time
	}{
		{name: "later time advances", register: true, touchAt: epoch.Add(time.Second), wantOK: true, wantSeenAt: epoch.Add(time.Second)},
		{name: "same time is accepted", register: true, touchAt: epoch, wantOK: true, wantSeenAt: epoch},
		{name: "earlier time never decreases", register: true, touchAt: epoch.Add(-time.Hour), wantOK: true, wantSeenAt: epoch},
		{name: "absent identity", register: false, touchAt: epoch, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New()
			id := identity.New()
			if tt.register {
				require.True(t, reg.Insert(id, nil, epoch))
			}

			assert.Equal(t, tt.wantOK, reg.Touch(id, tt.touchAt))

			rec, ok := reg.Lookup(id)
			assert.Equal(t, tt.register, ok)
			if ok {
				assert.Equal(t, tt.wantSeenAt, rec.LastSeen)
			}
			if !tt.register {
				assert.Equal(t, 0, reg.Len(), "touch must not create records")
			}
		})
	}
}

// TestRecordsAreCopies verifies callers cannot mutate stored state through
// either the inserted buffer or returned records.
func TestRecordsAreCopies(t *testing.T) {
	reg := New()
	id := identity.New()
	desc := []byte("original")

	require.True(t, reg.Insert(id, desc, epoch))
	desc[0] = 'X'

	rec, _ := reg.Lookup(id)
	assert.Equal(t, []byte("original"), rec.Descriptor)

	rec.Descriptor[0] = 'Y'
	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []byte("original"), snap[0].Record.Descriptor)
}

// TestSnapshotSorted verifies Snapshot orders by identity string.
func TestSnapshotSorted(t *testing.T) {
	reg := New()
	for i := 0; i < 20; i++ {
		reg.Insert(identity.New(), nil, epoch)
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 20)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].ID.String(), snap[i].ID.String())
	}
}

// TestConcurrentOperationsLinearizable hammers the registry from many
// goroutines and checks the final state matches a sequential ordering:
// exactly one Insert wins per identity, its descriptor is the one stored,
// and LastSeen equals the latest successful timestamp applied.
func TestConcurrentOperationsLinearizable(t *testing.T) {
	reg := New()
	ids := make([]identity.ID, 8)
	for i := range ids {
		ids[i] = identity.New()
	}

	const workers = 16
	const opsPerWorker = 200

	type win struct {
		desc string
	}
	var (
		mu       sync.Mutex
		winners  = make(map[identity.ID][]win)
		maxApply = make(map[identity.ID]time.Time)
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for op := 0; op < opsPerWorker; op++ {
				id := ids[(w+op)%len(ids)]
				at := epoch.Add(time.Duration(w*opsPerWorker+op) * time.Millisecond)

				switch op % 3 {
				case 0:
					desc := fmt.Sprintf("w%d-op%d", w, op)
					if reg.Insert(id, []byte(desc), at) {
						mu.Lock()
						winners[id] = append(winners[id], win{desc: desc})
						if at.After(maxApply[id]) {
							maxApply[id] = at
						}
						mu.Unlock()
					}
				case 1:
					if reg.Touch(id, at) {
						mu.Lock()
						if at.After(maxApply[id]) {
							maxApply[id] = at
						}
						mu.Unlock()
					}
				default:
					if rec, ok := reg.Lookup(id); ok {
						assert.NotEmpty(t, rec.Descriptor)
						assert.False(t, rec.LastSeen.IsZero())
					}
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, len(ids), reg.Len())
	for _, id := range ids {
		require.Len(t, winners[id], 1, "exactly one insert must win for %s", id)
		rec, ok := reg.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, winners[id][0].desc, string(rec.Descriptor))
		assert.Equal(t, maxApply[id], rec.LastSeen)
	}
}

package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	assert.NoError(t, Descriptor{Name: "build"}.Validate())
	assert.ErrorIs(t, Descriptor{}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Descriptor{Name: "   "}.Validate(), ErrInvalid)
}

func TestNewHandleUnique(t *testing.T) {
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := NewHandle()
		require.False(t, seen[h], "duplicate handle %s", h)
		seen[h] = true
	}
}

// ledgerContract runs the behavior every Ledger must have.
func ledgerContract(t *testing.T, l Ledger) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, l.Ping(ctx))

	second := Job{Handle: "h-2", Name: "second", Payload: []byte("p2"), SubmittedAt: base.Add(time.Second)}
	first := Job{Handle: "h-1", Name: "first", Payload: []byte("p1"), SubmittedAt: base}

	require.NoError(t, l.Record(ctx, second))
	require.NoError(t, l.Record(ctx, first))

	err := l.Record(ctx, first)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := l.Get(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, []byte("p1"), got.Payload)
	assert.True(t, base.Equal(got.SubmittedAt))

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Handle("h-1"), list[0].Handle)
	assert.Equal(t, Handle("h-2"), list[1].Handle)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ledgerContract(t, l)
}

func TestMemoryLedgerCopies(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	payload := []byte("abc")
	require.NoError(t, l.Record(ctx, Job{Handle: "h", Name: "n", Payload: payload, SubmittedAt: time.Now()}))
	payload[0] = 'X'

	got, err := l.Get(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.Payload)

	got.Payload[0] = 'Y'
	again, err := l.Get(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again.Payload)
}

func TestSQLiteLedger(t *testing.T) {
	l, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer l.Close()

	ledgerContract(t, l)
}

// TestSQLiteLedgerPingAfterClose verifies a closed database fails the
// health check.
func TestSQLiteLedgerPingAfterClose(t *testing.T) {
	l, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, l.Ping(context.Background()))

	require.NoError(t, l.Close())
	assert.Error(t, l.Ping(context.Background()))
}

// TestSQLiteLedgerPersists verifies jobs survive reopening the file.
func TestSQLiteLedgerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, Job{Handle: "keep", Name: "nightly", SubmittedAt: time.Now()}))
	require.NoError(t, l.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Empty(t, got.Payload)
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/domain/memstore"
)

func newTestLogger() (*Logger, *memstore.AuditStore) {
	store := memstore.NewAuditStore()
	c := clock.Fixed{At: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)}
	return NewLogger(store, c, nil), store
}

func TestAppendChainsChecksums(t *testing.T) {
	l, store := newTestLogger()
	ctx := context.Background()

	e1, err := l.Append(ctx, "t1", Entry{Action: "task_created", ActorID: "system"})
	require.NoError(t, err)
	e2, err := l.Append(ctx, "t1", Entry{Action: "task_assigned", ActorID: "system"})
	require.NoError(t, err)
	e3, err := l.Append(ctx, "t1", Entry{Action: "task_done", ActorID: "worker-1"})
	require.NoError(t, err)

	assert.Empty(t, e1.PreviousChecksum)
	assert.Equal(t, e1.Checksum, e2.PreviousChecksum)
	assert.Equal(t, e2.Checksum, e3.PreviousChecksum)
	assert.Len(t, e1.Checksum, 16)

	entries, err := store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestChainsAreTenantScoped(t *testing.T) {
	l, _ := newTestLogger()
	ctx := context.Background()

	e1, err := l.Append(ctx, "t1", Entry{Action: "a", ActorID: "x"})
	require.NoError(t, err)
	other, err := l.Append(ctx, "t2", Entry{Action: "b", ActorID: "y"})
	require.NoError(t, err)

	// t2's first entry starts its own chain; it never links to t1's.
	assert.Empty(t, other.PreviousChecksum)
	assert.NotEqual(t, e1.Checksum, other.Checksum)
}

func TestVerifyCleanChain(t *testing.T) {
	l, _ := newTestLogger()
	ctx := context.Background()
	for _, action := range []string{"a", "b", "c", "d"} {
		_, err := l.Append(ctx, "t1", Entry{Action: action, ActorID: "system"})
		require.NoError(t, err)
	}

	res, err := l.Verify(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Empty(t, res.InvalidEntries)
	assert.Empty(t, res.BrokenChains)
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, store := newTestLogger()
	ctx := context.Background()

	_, err := l.Append(ctx, "t1", Entry{Action: "created", ActorID: "system"})
	require.NoError(t, err)
	e2, err := l.Append(ctx, "t1", Entry{Action: "assigned", ActorID: "system"})
	require.NoError(t, err)
	e3, err := l.Append(ctx, "t1", Entry{Action: "done", ActorID: "system"})
	require.NoError(t, err)

	// Tamper with the middle entry after the fact.
	entries, err := store.List(ctx, "t1")
	require.NoError(t, err)
	entries[1].Action = "deleted"

	res, err := l.Verify(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, []string{e2.ID}, res.InvalidEntries)

	// The successor's link breaks too: its stored previous_checksum still
	// points at the pre-tamper E2 checksum.
	require.Len(t, res.BrokenChains, 1)
	assert.Equal(t, e3.ID, res.BrokenChains[0].EntryID)
	assert.Equal(t, e2.Checksum, res.BrokenChains[0].ActualPrev)
	assert.NotEqual(t, res.BrokenChains[0].ExpectedPrev, res.BrokenChains[0].ActualPrev)
}

func TestVerifyEmptyChain(t *testing.T) {
	l, _ := newTestLogger()
	res, err := l.Verify(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestChecksumFieldOrdering(t *testing.T) {
	ts := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	a := &domain.AuditEntry{ID: "id-1", Timestamp: ts, Action: "x", ActorID: "a", ResourceID: "r"}
	b := &domain.AuditEntry{ID: "id-1", Timestamp: ts, Action: "x", ActorID: "a", ResourceID: "r", PreviousChecksum: "deadbeef"}
	assert.NotEqual(t, checksum(a), checksum(b))
}

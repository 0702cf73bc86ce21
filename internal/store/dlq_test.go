package store

import (
	"context"
	"testing"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMoveToDLQMarksLiveRowConsumed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertMessage(t, st, "orders", &model.Message{ID: "m1", ConsumerGroup: "orders", Content: []byte("a"), CreatedAt: now, DeliveryCount: 6})

	dlq := "orders-dlq"
	require.NoError(t, st.EnsureDLQIndexes(ctx, dlq))

	entry := &model.DLQEntry{
		ID: "m1", ConsumerGroup: "orders", Content: []byte("a"), CreatedAt: now,
		Consumed: true, DeliveryCount: 6, FailedAt: now, DLQReason: model.DLQReasonMaxDeliveries,
	}
	require.NoError(t, st.MoveToDLQ(ctx, "orders", dlq, entry))

	live, err := st.FindByID(ctx, "orders", "m1")
	require.NoError(t, err)
	require.True(t, live.Consumed)
	require.Nil(t, live.ReservedUntil)

	entries, err := st.FindDLQEntries(ctx, dlq, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, model.DLQReasonMaxDeliveries, entries[0].DLQReason)
}

func TestFindDLQEntriesOrderedNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	dlq := "orders-dlq"
	require.NoError(t, st.EnsureDLQIndexes(ctx, dlq))

	require.NoError(t, st.InsertDLQEntry(ctx, dlq, &model.DLQEntry{ID: "older", ConsumerGroup: "orders", Content: []byte("a"), CreatedAt: base, FailedAt: base, DLQReason: model.DLQReasonManual}))
	require.NoError(t, st.InsertDLQEntry(ctx, dlq, &model.DLQEntry{ID: "newer", ConsumerGroup: "orders", Content: []byte("b"), CreatedAt: base, FailedAt: base.Add(time.Minute), DLQReason: model.DLQReasonManual}))

	entries, err := st.FindDLQEntries(ctx, dlq, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "newer", entries[0].ID)
	require.Equal(t, "older", entries[1].ID)
}

func TestRemoveDLQEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	dlq := "orders-dlq"
	require.NoError(t, st.EnsureDLQIndexes(ctx, dlq))
	require.NoError(t, st.InsertDLQEntry(ctx, dlq, &model.DLQEntry{ID: "m1", ConsumerGroup: "orders", Content: []byte("a"), CreatedAt: now, FailedAt: now, DLQReason: model.DLQReasonManual}))

	n, err := st.RemoveDLQEntries(ctx, dlq, []string{"m1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	entries, err := st.FindDLQEntries(ctx, dlq, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReapDLQEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	dlq := "orders-dlq"
	require.NoError(t, st.EnsureDLQIndexes(ctx, dlq))

	require.NoError(t, st.InsertDLQEntry(ctx, dlq, &model.DLQEntry{ID: "stale", ConsumerGroup: "orders", Content: []byte("a"), CreatedAt: old, FailedAt: old, DLQReason: model.DLQReasonManual}))
	require.NoError(t, st.InsertDLQEntry(ctx, dlq, &model.DLQEntry{ID: "current", ConsumerGroup: "orders", Content: []byte("b"), CreatedAt: fresh, FailedAt: fresh, DLQReason: model.DLQReasonManual}))

	n, err := st.ReapDLQEntries(ctx, dlq, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	entries, err := st.FindDLQEntries(ctx, dlq, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "current", entries[0].ID)
}

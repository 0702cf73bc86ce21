package queue

import (
	"context"
	"testing"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMessageMovesToDLQAfterMaxDeliveries(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxDeliveryAttempts = 2
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)

	// Deliver and nack twice to exhaust the delivery budget.
	for i := 0; i < 2; i++ {
		got, err := e.Pop(ctx, "orders")
		require.NoError(t, err)
		require.Equal(t, msg.ID, got.ID)
		require.NoError(t, e.Nack(ctx, "orders", msg.ID, "processing failed"))
	}

	// The third reservation attempt finds deliveryCount > max and triages
	// to the DLQ instead of handing the message out again.
	_, err = e.Pop(ctx, "orders")
	require.ErrorIs(t, err, ErrNotReservable)

	entries, err := e.ViewDLQ(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, msg.ID, entries[0].ID)
	require.Equal(t, model.DLQReasonMaxDeliveries, entries[0].DLQReason)
}

func TestReplayDLQReinsertsUnderFreshID(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MaxDeliveryAttempts = 1
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("payload"), nil)
	require.NoError(t, err)
	_, err = e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, e.Nack(ctx, "orders", msg.ID, "boom"))
	_, err = e.Pop(ctx, "orders")
	require.ErrorIs(t, err, ErrNotReservable)

	entries, err := e.ViewDLQ(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	count, err := e.ReplayDLQ(ctx, "orders", []string{entries[0].ID})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	replayed, err := e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.NotEqual(t, msg.ID, replayed.ID, "a replayed message gets a fresh id, never the original")
	require.Equal(t, "payload", string(replayed.Content))

	remaining, err := e.ViewDLQ(ctx, "orders", 0)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestReplayDLQIsIdempotentForUnknownIDs(t *testing.T) {
	e := newTestEngine(t)
	count, err := e.ReplayDLQ(context.Background(), "orders", []string{"ghost"})
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

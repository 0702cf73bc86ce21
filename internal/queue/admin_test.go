package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewMergesCacheAndDurableWithoutDuplicates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)

	out, err := e.View(ctx, "orders", 0, ConsumedFilterAny)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, msg.ID, out[0].ID)
}

func TestViewConsumedFilterYesBypassesCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)
	_, err = e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, e.Ack(ctx, "orders", msg.ID))

	out, err := e.View(ctx, "orders", 0, ConsumedFilterYes)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, msg.ID, out[0].ID)
	require.True(t, out[0].Consumed)
}

func TestViewConsumedFilterNoExcludesConsumed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	unconsumed, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)
	consumed, err := e.Push(ctx, "orders", []byte("b"), nil)
	require.NoError(t, err)

	_, err = e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, e.Ack(ctx, "orders", consumed.ID))

	out, err := e.View(ctx, "orders", 0, ConsumedFilterNo)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, unconsumed.ID, out[0].ID)
}

func TestViewSelfHealsStaleCacheEntry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)

	// Reserve and ack out from under the cache entry directly through the
	// durable store, simulating a race where the cache still holds a copy
	// the durable store has since disowned.
	_, err = e.store.ReserveByID(ctx, "orders", msg.ID, e.now(), e.cfg.VisibilityTimeout())
	require.NoError(t, err)
	_, _, err = e.store.Ack(ctx, "orders", msg.ID)
	require.NoError(t, err)

	out, err := e.View(ctx, "orders", 0, ConsumedFilterAny)
	require.NoError(t, err)
	for _, m := range out {
		require.NotEqual(t, msg.ID, m.ID, "a cache entry the durable store disowns is excluded after self-healing")
	}
}

func TestViewRespectsLimitAndDefaultsToMessageAllowedToFetch(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.MessageAllowedToFetch = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Push(ctx, "orders", []byte("x"), nil)
		require.NoError(t, err)
	}

	out, err := e.View(ctx, "orders", 0, ConsumedFilterAny)
	require.NoError(t, err)
	require.Len(t, out, 2, "limit<=0 falls back to MessageAllowedToFetch")

	out, err = e.View(ctx, "orders", 100, ConsumedFilterAny)
	require.NoError(t, err)
	require.Len(t, out, 2, "a requested limit above MessageAllowedToFetch is clamped")
}

func TestViewRejectsInvalidGroup(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.View(context.Background(), "bad/group", 10, ConsumedFilterAny)
	require.Error(t, err)
}

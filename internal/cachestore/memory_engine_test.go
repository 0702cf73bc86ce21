package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMemoryEnginePopIsFIFOByScore(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "newer", CreatedAt: base.Add(time.Second)}, 0))
	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "older", CreatedAt: base}, 0))

	m, err := e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "older", m.ID)
}

func TestMemoryEngineAddScoredOverridesCreatedAt(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "inserted-later", CreatedAt: base.Add(time.Hour)}, 0))
	require.NoError(t, e.AddScored(ctx, "orders", &model.Message{ID: "promoted-earlier-due"}, base.UnixMilli(), 0))

	m, err := e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "promoted-earlier-due", m.ID, "a promoted message scored by its original due time pops first")
}

func TestMemoryEngineCapacity(t *testing.T) {
	e := NewMemoryEngine(1, time.Minute)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "m1", CreatedAt: time.Now()}, 0))
	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "m2", CreatedAt: time.Now()}, 0))

	n, err := e.Len(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "arrivals past capacity are dropped")
}

func TestMemoryEngineAddScoredEvictsNewestWhenFull(t *testing.T) {
	e := NewMemoryEngine(2, time.Minute)
	defer e.Close()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "new1", CreatedAt: base.Add(time.Hour)}, 0))
	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "new2", CreatedAt: base.Add(2 * time.Hour)}, 0))

	// A promoted message scored by an older due time outranks the cached
	// entries, so the highest-scored one makes way for it.
	require.NoError(t, e.AddScored(ctx, "orders", &model.Message{ID: "promoted"}, base.UnixMilli(), 0))

	peeked, err := e.Peek(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	require.Equal(t, "promoted", peeked[0].ID)
	require.Equal(t, "new1", peeked[1].ID, "the newest entry is evicted, not the promoted arrival")
}

func TestMemoryEngineAddScoredDroppedWhenItScoresHighest(t *testing.T) {
	e := NewMemoryEngine(1, time.Minute)
	defer e.Close()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "older", CreatedAt: base}, 0))
	require.NoError(t, e.AddScored(ctx, "orders", &model.Message{ID: "later-due"}, base.Add(time.Hour).UnixMilli(), 0))

	peeked, err := e.Peek(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	require.Equal(t, "older", peeked[0].ID)
}

func TestMemoryEngineRemoveOne(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: "m1", CreatedAt: time.Now()}, 0))
	require.NoError(t, e.RemoveOne(ctx, "orders", "m1"))

	n, err := e.Len(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestMemoryEnginePeekRespectsLimit(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, e.Add(ctx, "orders", &model.Message{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}, 0))
	}

	peeked, err := e.Peek(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	require.Equal(t, "a", peeked[0].ID)
	require.Equal(t, "b", peeked[1].ID)
}

func TestMemoryEnginePingAlwaysSucceeds(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	require.NoError(t, e.Ping(context.Background()))
}

func TestMemoryEngineEmptyPopReturnsNil(t *testing.T) {
	e := NewMemoryEngine(0, time.Minute)
	defer e.Close()
	m, err := e.Pop(context.Background(), "orders")
	require.NoError(t, err)
	require.Nil(t, m)
}

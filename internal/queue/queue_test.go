package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CrisisTextLine/lightq/internal/cachestore"
	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/store"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// newTestEngine wires a real sqlite-backed store and a real in-memory cache
// engine behind the breaker, exercising the engine against real
// dependencies instead of mocks.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.CacheTTLMinutes = 0 // no expiry churn during tests

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	st, err := store.New(store.Config{Driver: "sqlite", DSN: dsn}, telemetry.NopLogger{}, metrics, 256, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	memEngine := cachestore.NewMemoryEngine(0, time.Minute)
	cache := cachestore.New(memEngine, cachestore.Config{}, telemetry.NopLogger{}, metrics, noopEmitter{})
	t.Cleanup(func() { _ = cache.Close() })

	e := New(cfg, st, cache, telemetry.NopLogger{}, metrics, noopEmitter{})
	t.Cleanup(e.Close)
	return e
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, string, map[string]interface{}) {}

func withClock(e *Engine, now time.Time) {
	e.clock = func() time.Time { return now }
}

func TestPushThenPopRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msg, err := e.Push(ctx, "orders", []byte("payload"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	popped, err := e.Pop(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, msg.ID, popped.ID)
	require.Equal(t, 1, popped.DeliveryCount)
}

func TestPopWithNothingAvailable(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Pop(context.Background(), "orders")
	require.ErrorIs(t, err, ErrNotReservable)
}

func TestPushRejectsInvalidGroup(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Push(context.Background(), "bad/group", []byte("x"), nil)
	require.Error(t, err)
}

func TestPushRejectsEmptyContent(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Push(context.Background(), "orders", nil, nil)
	require.Error(t, err)
}

func TestPushRejectsAsyncWithScheduleByDefault(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.AsyncPersistence = true
	future := time.Now().Add(time.Hour)

	_, err := e.Push(context.Background(), "orders", []byte("x"), &future)
	require.ErrorIs(t, err, config.ErrAsyncWithSchedule)
}

func TestScheduledMessageIsNotImmediatelyReservable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	_, err := e.Push(ctx, "orders", []byte("x"), &future)
	require.NoError(t, err)

	_, err = e.Pop(ctx, "orders")
	require.ErrorIs(t, err, ErrNotReservable)
}

func TestEngineBatchPush(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	msgs, err := e.BatchPush(ctx, "orders", [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	seen := map[string]bool{}
	for range msgs {
		m, err := e.Pop(ctx, "orders")
		require.NoError(t, err)
		seen[m.ID] = true
	}
	require.Len(t, seen, 3)
}

func TestKnownGroupsTracksPushedGroups(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Push(ctx, "orders", []byte("a"), nil)
	require.NoError(t, err)
	_, err = e.Push(ctx, "shipments", []byte("b"), nil)
	require.NoError(t, err)

	groups := e.KnownGroups()
	require.ElementsMatch(t, []string{"orders", "shipments"}, groups)
}

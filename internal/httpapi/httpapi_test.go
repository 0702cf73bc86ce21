package httpapi

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CrisisTextLine/lightq/internal/cachestore"
	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/queue"
	"github.com/CrisisTextLine/lightq/internal/store"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, string, map[string]interface{}) {}

// newTestServer wires a real sqlite-backed, in-memory-cached queue engine
// behind the HTTP router, served on a real httptest listener instead of a
// mock.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.CacheTTLMinutes = 0

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	st, err := store.New(store.Config{Driver: "sqlite", DSN: dsn}, telemetry.NopLogger{}, metrics, 256, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	memEngine := cachestore.NewMemoryEngine(0, time.Minute)
	cache := cachestore.New(memEngine, cachestore.Config{}, telemetry.NopLogger{}, metrics, noopEmitter{})
	t.Cleanup(func() { _ = cache.Close() })

	engine := queue.New(cfg, st, cache, telemetry.NopLogger{}, metrics, noopEmitter{})
	t.Cleanup(engine.Close)

	api := New(engine)
	router := NewRouter(api, telemetry.NopLogger{}, HealthHandler(st, cache, 0))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

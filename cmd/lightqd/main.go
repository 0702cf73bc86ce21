// Command lightqd wires the durable store, the cache store, the queue
// engine, and the HTTP adapter into a running service, and owns process
// lifecycle, configuration loading, and graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CrisisTextLine/lightq/internal/cachestore"
	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/httpapi"
	"github.com/CrisisTextLine/lightq/internal/queue"
	"github.com/CrisisTextLine/lightq/internal/store"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (env overrides still apply)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewZapLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	// A nil sink logs-and-drops every event; swap in a real CloudEvents
	// transport (HTTP, Kafka, ...) here once one is provisioned.
	events := telemetry.NewCloudEventEmitter(logger, nil)

	st, err := store.New(store.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN}, logger, metrics, cfg.IndexCacheMaxGroups, cfg.IndexCacheExpire())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	engine := newCacheEngine(cfg)
	cache := cachestore.New(engine, cachestore.Config{}, logger, metrics, events)
	defer func() { _ = cache.Close() }()

	qe := queue.New(cfg, st, cache, logger, metrics, events)
	defer qe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go qe.RunPromoter(ctx)
	go qe.RunReaper(ctx, time.Minute)

	api := httpapi.New(qe)
	healthz := httpapi.HealthHandler(st, cache, cfg.RedisCommandTimeout())
	router := httpapi.NewRouter(api, logger, healthz)

	srv := &http.Server{Addr: addr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("lightqd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	cancel() // stop the promoter and reaper loops

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RedisShutdownTimeout())
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// newCacheEngine selects the Redis-backed engine when redis-addr is
// configured, and the in-process fallback otherwise.
func newCacheEngine(cfg *config.Config) cachestore.Engine {
	if cfg.RedisAddr == "" {
		return cachestore.NewMemoryEngine(cfg.CacheMaxEntriesPerGroup, time.Minute)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return cachestore.NewRedisEngine(client, cfg.CacheMaxEntriesPerGroup, cfg.RedisCommandTimeout())
}

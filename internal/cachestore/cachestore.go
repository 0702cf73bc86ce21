// Package cachestore implements the fast path in front of the durable
// store: a per-group FIFO of not-yet-reserved messages, backed by Redis
// when configured and by an in-process engine otherwise, wrapped in a
// circuit breaker so a degraded cache backend falls back to durable-store
// scans instead of failing pushes and reservations outright.
package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/sony/gobreaker/v2"
)

// ErrCacheUnavailable is returned by every CacheStore method other than
// Ping and Close while the circuit breaker is open; callers fall back to
// the durable store.
var ErrCacheUnavailable = errors.New("cache store unavailable")

// Engine is the minimal backend contract a cache implementation (Redis or
// in-memory) must satisfy; CacheStore wraps it with the circuit breaker.
type Engine interface {
	Add(ctx context.Context, group string, msg *model.Message, ttl time.Duration) error
	AddScored(ctx context.Context, group string, msg *model.Message, score int64, ttl time.Duration) error
	AddMany(ctx context.Context, group string, msgs []*model.Message, ttl time.Duration) error
	Pop(ctx context.Context, group string) (*model.Message, error)
	Peek(ctx context.Context, group string, limit int) ([]*model.Message, error)
	RemoveOne(ctx context.Context, group, id string) error
	TouchTTL(ctx context.Context, group string, ttl time.Duration) error
	Len(ctx context.Context, group string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// CacheStore is the queue engine's view of the cache tier: every Engine
// call except Ping and Close is routed through a circuit breaker, and an
// open breaker degrades those methods to ErrCacheUnavailable instead of
// blocking on a backend that is already known to be failing.
type CacheStore struct {
	engine  Engine
	breaker *gobreaker.CircuitBreaker[any]
	logger  telemetry.Logger
	metrics *telemetry.Metrics
	events  telemetry.EventEmitter
}

// Config tunes the circuit breaker guarding the cache engine.
type Config struct {
	// MaxFailures trips the breaker after this many consecutive failures.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before it allows one
	// trial request through (half-open).
	OpenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 10 * time.Second
	}
	return c
}

// New wraps engine with a circuit breaker; logger/metrics/events record
// trips and self-healing (breaker returning to closed).
func New(engine Engine, cfg Config, logger telemetry.Logger, metrics *telemetry.Metrics, events telemetry.EventEmitter) *CacheStore {
	cfg = cfg.withDefaults()
	cs := &CacheStore{engine: engine, logger: logger, metrics: metrics, events: events}

	settings := gobreaker.Settings{
		Name:    "cachestore",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				cs.metrics.CacheDegraded.WithLabelValues("breaker_open").Inc()
				cs.logger.Warn("cache circuit breaker opened", "breaker", name)
				cs.events.Emit(context.Background(), telemetry.EventTypeCacheDegraded, "cachestore", map[string]interface{}{"state": to.String()})
			}
			if to == gobreaker.StateClosed && from != gobreaker.StateClosed {
				cs.metrics.CacheSelfHealed.WithLabelValues("breaker_closed").Inc()
				cs.logger.Info("cache circuit breaker closed", "breaker", name)
				cs.events.Emit(context.Background(), telemetry.EventTypeCacheSelfHealed, "cachestore", map[string]interface{}{"state": to.String()})
			}
		},
	}
	cs.breaker = gobreaker.NewCircuitBreaker[any](settings)
	return cs
}

// Degraded reports whether the breaker is currently open.
func (cs *CacheStore) Degraded() bool {
	return cs.breaker.State() == gobreaker.StateOpen
}

func runBreaker[T any](cs *CacheStore, fn func() (T, error)) (T, error) {
	var zero T
	v, err := cs.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return zero, ErrCacheUnavailable
		}
		return zero, err
	}
	return v.(T), nil
}

func (cs *CacheStore) Add(ctx context.Context, group string, msg *model.Message, ttl time.Duration) error {
	_, err := runBreaker[struct{}](cs, func() (struct{}, error) {
		return struct{}{}, cs.engine.Add(ctx, group, msg, ttl)
	})
	return err
}

// AddScored adds msg to the cache scored by an explicit epoch-millis value
// rather than msg.CreatedAt — used by the scheduled promoter so a just-due
// message sorts ahead of messages created after it was scheduled.
func (cs *CacheStore) AddScored(ctx context.Context, group string, msg *model.Message, score int64, ttl time.Duration) error {
	_, err := runBreaker[struct{}](cs, func() (struct{}, error) {
		return struct{}{}, cs.engine.AddScored(ctx, group, msg, score, ttl)
	})
	return err
}

func (cs *CacheStore) AddMany(ctx context.Context, group string, msgs []*model.Message, ttl time.Duration) error {
	_, err := runBreaker[struct{}](cs, func() (struct{}, error) {
		return struct{}{}, cs.engine.AddMany(ctx, group, msgs, ttl)
	})
	return err
}

func (cs *CacheStore) Pop(ctx context.Context, group string) (*model.Message, error) {
	return runBreaker[*model.Message](cs, func() (*model.Message, error) {
		return cs.engine.Pop(ctx, group)
	})
}

func (cs *CacheStore) Peek(ctx context.Context, group string, limit int) ([]*model.Message, error) {
	return runBreaker[[]*model.Message](cs, func() ([]*model.Message, error) {
		return cs.engine.Peek(ctx, group, limit)
	})
}

func (cs *CacheStore) RemoveOne(ctx context.Context, group, id string) error {
	_, err := runBreaker[struct{}](cs, func() (struct{}, error) {
		return struct{}{}, cs.engine.RemoveOne(ctx, group, id)
	})
	return err
}

func (cs *CacheStore) TouchTTL(ctx context.Context, group string, ttl time.Duration) error {
	_, err := runBreaker[struct{}](cs, func() (struct{}, error) {
		return struct{}{}, cs.engine.TouchTTL(ctx, group, ttl)
	})
	return err
}

func (cs *CacheStore) Len(ctx context.Context, group string) (int64, error) {
	return runBreaker[int64](cs, func() (int64, error) {
		return cs.engine.Len(ctx, group)
	})
}

// Ping bypasses the circuit breaker deliberately: a health probe must
// report the backend's real state rather than a breaker that's already
// open from unrelated load.
func (cs *CacheStore) Ping(ctx context.Context) error {
	return cs.engine.Ping(ctx)
}

// Close releases the underlying engine's resources.
func (cs *CacheStore) Close() error {
	return cs.engine.Close()
}

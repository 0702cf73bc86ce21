// Package queue implements the queueing engine: push, reservation, the ack
// state machine, DLQ triage, scheduled promotion, and the admin view. It is
// the only package that knows how the durable store and the cache store
// cooperate; callers (the HTTP adapter) see only Engine's methods.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/CrisisTextLine/lightq/internal/cachestore"
	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/store"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/google/uuid"
)

// Errors surfaced to the HTTP adapter, matching the unified error body's
// need for distinguishable failure classes.
var (
	ErrNotReservable  = errors.New("no reservable message available")
	ErrMessageMissing = errors.New("message not found")
	ErrNotReserved    = errors.New("message is not currently reserved")
)

// Engine wires the durable store, the cache store, and a bounded
// write-behind worker pool into the component set described by the
// reservation/ack/DLQ/promotion algorithm.
type Engine struct {
	cfg     *config.Config
	store   *store.Store
	cache   *cachestore.CacheStore
	logger  telemetry.Logger
	metrics *telemetry.Metrics
	events  telemetry.EventEmitter
	pool    *workerPool

	clock func() time.Time

	// groupsSeen remembers every consumer group pushed to in this process,
	// so the scheduled promoter and the TTL reaper know which durable
	// tables to scan without a separate group-registry store.
	groupsSeen sync.Map
}

// New builds an Engine. clock defaults to time.Now; tests may override it.
func New(cfg *config.Config, st *store.Store, cache *cachestore.CacheStore, logger telemetry.Logger, metrics *telemetry.Metrics, events telemetry.EventEmitter) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   st,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		events:  events,
		clock:   time.Now,
	}
	e.pool = newWorkerPool(cfg.WorkerPool, logger, metrics)
	return e
}

// Close stops the write-behind worker pool, waiting for in-flight and
// queued tasks.
func (e *Engine) Close() {
	e.pool.close()
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

func newMessageID() string { return uuid.NewString() }

func (e *Engine) visibilityTimeout() time.Duration { return e.cfg.VisibilityTimeout() }

func (e *Engine) cacheTTL() time.Duration { return e.cfg.CacheTTL() }

func (e *Engine) dlqCollection(group string) string { return e.cfg.DLQCollection(group) }

// trackGroup records group in the in-process registry consulted by the
// promoter and the reaper. Idempotent and cheap enough to call on every push.
func (e *Engine) trackGroup(group string) { e.groupsSeen.Store(group, struct{}{}) }

// KnownGroups returns every consumer group this process has pushed to since
// startup, in no particular order.
func (e *Engine) KnownGroups() []string {
	var out []string
	e.groupsSeen.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters operators need to watch: DLQ moves,
// write-behind persistence loss, cache circuit-breaker degradation, and
// self-healing evictions.
type Metrics struct {
	DLQMoves              *prometheus.CounterVec
	PersistenceRetries    *prometheus.CounterVec
	PersistenceLost       *prometheus.CounterVec
	CacheDegraded         *prometheus.CounterVec
	CacheSelfHealed       *prometheus.CounterVec
	WorkerPoolBackpressure prometheus.Counter
	ReservationsTotal     *prometheus.CounterVec
	PromotionsTotal       *prometheus.CounterVec
	ReapedTotal           *prometheus.CounterVec
}

// NewMetrics registers and returns the counter set against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DLQMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_dlq_moves_total",
			Help: "Messages moved to the dead-letter queue, by group and reason.",
		}, []string{"group", "reason"}),
		PersistenceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_persistence_retries_total",
			Help: "Durable-store write retries, by group.",
		}, []string{"group"}),
		PersistenceLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_persistence_lost_total",
			Help: "Write-behind messages never durably persisted, because retries were exhausted or the worker pool queue was full, by group.",
		}, []string{"group"}),
		CacheDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_cache_degraded_total",
			Help: "Times the cache circuit breaker opened; the operation label is breaker_open.",
		}, []string{"operation"}),
		CacheSelfHealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_cache_self_healed_total",
			Help: "Stale cache entries evicted by reservation reconciliation or the admin view, by group; the group label breaker_closed counts the cache circuit breaker closing again.",
		}, []string{"group"}),
		WorkerPoolBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightq_worker_pool_backpressure_total",
			Help: "Write-behind tasks rejected because the bounded worker pool queue was full.",
		}),
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_reservations_total",
			Help: "Successful reservations, by group and source (cache or durable-scan).",
		}, []string{"group", "source"}),
		PromotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_scheduled_promotions_total",
			Help: "Scheduled messages promoted into the cache, by group.",
		}, []string{"group"}),
		ReapedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightq_reaped_total",
			Help: "Rows deleted by the TTL reaper, by group and collection (live or dlq).",
		}, []string{"group", "collection"}),
	}

	reg.MustRegister(
		m.DLQMoves,
		m.PersistenceRetries,
		m.PersistenceLost,
		m.CacheDegraded,
		m.CacheSelfHealed,
		m.WorkerPoolBackpressure,
		m.ReservationsTotal,
		m.PromotionsTotal,
		m.ReapedTotal,
	)

	return m
}

package queue

import (
	"context"
	"time"
)

// RunReaper periodically deletes consumed live records older than
// persistence-duration-minutes and, if dlq-ttl-minutes is positive, DLQ
// entries older than that window, the application-level stand-in for a
// partial TTL index, which none of the supported SQL backends provide.
// It blocks until ctx is cancelled.
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapTick(ctx)
		}
	}
}

func (e *Engine) reapTick(ctx context.Context) {
	now := e.now()
	liveCutoff := now.Add(-e.cfg.PersistenceDuration())
	dlqTTL := e.cfg.DLQTTL()

	for _, group := range e.KnownGroups() {
		if ctx.Err() != nil {
			return
		}
		n, err := e.store.ReapConsumed(ctx, group, liveCutoff)
		if err != nil {
			e.logger.Warn("reaping consumed live records failed", "group", group, "error", err.Error())
		} else if n > 0 {
			e.metrics.ReapedTotal.WithLabelValues(group, "live").Add(float64(n))
		}

		if dlqTTL <= 0 {
			continue
		}
		dlq := e.dlqCollection(group)
		if err := e.store.EnsureDLQIndexes(ctx, dlq); err != nil {
			e.logger.Warn("ensuring dlq indexes before reap failed", "group", group, "error", err.Error())
			continue
		}
		dlqCutoff := now.Add(-dlqTTL)
		dn, err := e.store.ReapDLQEntries(ctx, dlq, dlqCutoff)
		if err != nil {
			e.logger.Warn("reaping dlq entries failed", "group", group, "error", err.Error())
		} else if dn > 0 {
			e.metrics.ReapedTotal.WithLabelValues(group, "dlq").Add(float64(dn))
		}
	}
}

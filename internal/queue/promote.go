package queue

import (
	"context"
	"time"

	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// RunPromoter starts the scheduled-message promoter: a single-threaded
// periodic loop that, on every tick, atomically unschedules due messages
// (scheduledAt <= now) across every known consumer group and pushes them
// into the cache scored by their original scheduledAt, giving a just-due
// message priority over messages created after it. It blocks until ctx is
// cancelled; callers run it in its own goroutine.
func (e *Engine) RunPromoter(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScheduledPromoterRate())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.promoteTick(ctx)
		}
	}
}

// promoteTick runs one promotion pass, round-robining over known groups
// until either every group reports nothing due or the per-run cap is hit.
// Atomic operations commit per-step, so a cancelled context simply stops
// the loop early with no partial promotion left dangling.
func (e *Engine) promoteTick(ctx context.Context) {
	budget := e.cfg.MaxPromotionsPerRun
	if budget <= 0 {
		budget = 100
	}

	groups := e.KnownGroups()
	if len(groups) == 0 {
		return
	}

	for budget > 0 {
		promotedThisPass := false
		for _, group := range groups {
			if budget <= 0 {
				return
			}
			if ctx.Err() != nil {
				return
			}
			prior, err := e.store.PromoteDue(ctx, group, e.now())
			if err != nil {
				e.logger.Warn("promoting scheduled messages failed", "group", group, "error", err.Error())
				continue
			}
			if prior == nil {
				continue
			}

			promotedThisPass = true
			budget--

			score := e.now().UnixMilli()
			if prior.ScheduledAt != nil {
				score = prior.ScheduledAt.UnixMilli()
			}
			promoted := prior.Clone()
			promoted.ScheduledAt = nil
			if err := e.cache.AddScored(ctx, group, promoted, score, e.cacheTTL()); err != nil {
				e.logger.Warn("caching promoted message failed", "group", group, "id", promoted.ID, "error", err.Error())
			}
			e.metrics.PromotionsTotal.WithLabelValues(group).Inc()
			e.events.Emit(ctx, telemetry.EventTypeMessagePromoted, "queue", map[string]interface{}{"group": group, "id": promoted.ID})
		}
		if !promotedThisPass {
			// Every group came up empty this pass; the backlog (if any) is
			// smaller than the cap, or there simply was none. Either way,
			// the next tick resumes.
			return
		}
	}
}

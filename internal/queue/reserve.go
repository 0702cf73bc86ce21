package queue

import (
	"context"
	"fmt"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// Pop hands out one reservable message for group, exclusively for the
// configured visibility timeout. It peeks the cache first, attempts an
// atomic reservation in the durable store for each candidate in order,
// reconciles the cache against the store on a losing CAS, and falls back
// to a durable-store FIFO scan if no cached candidate could be reserved.
func (e *Engine) Pop(ctx context.Context, group string) (*model.Message, error) {
	if err := model.ValidateGroup(group); err != nil {
		return nil, err
	}
	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return nil, fmt.Errorf("ensuring durable store indexes for %s: %w", group, err)
	}

	peekLimit := maxCachePeek
	if e.cfg.MessageAllowedToFetch < peekLimit {
		peekLimit = e.cfg.MessageAllowedToFetch
	}

	candidates, err := e.cache.Peek(ctx, group, peekLimit)
	if err != nil {
		e.logger.Warn("cache peek failed during pop, falling back to durable scan", "group", group, "error", err.Error())
		candidates = nil
	}

	now := e.now()
	visibility := e.visibilityTimeout()

	for _, candidate := range candidates {
		reserved, err := e.store.ReserveByID(ctx, group, candidate.ID, now, visibility)
		if err != nil {
			return nil, fmt.Errorf("reserving %s/%s: %w", group, candidate.ID, err)
		}
		if reserved == nil {
			e.reconcileCacheEntry(ctx, group, candidate.ID)
			continue
		}
		if reserved.DeliveryCount > e.cfg.MaxDeliveryAttempts {
			if err := e.moveToDLQ(ctx, group, reserved, model.DLQReasonMaxDeliveries); err != nil {
				e.logger.Error("moving over-delivered message to dlq failed", "group", group, "id", reserved.ID, "error", err.Error())
			}
			continue
		}
		if err := e.cache.RemoveOne(ctx, group, candidate.ID); err != nil {
			e.logger.Warn("removing reserved message from cache failed", "group", group, "id", candidate.ID, "error", err.Error())
		}
		e.metrics.ReservationsTotal.WithLabelValues(group, "cache").Inc()
		e.events.Emit(ctx, telemetry.EventTypeMessageReserved, "queue", map[string]interface{}{"group": group, "id": reserved.ID, "source": "cache"})
		return reserved, nil
	}

	for {
		reserved, err := e.store.ReserveOldestAvailable(ctx, group, now, visibility)
		if err != nil {
			return nil, fmt.Errorf("reserving oldest available in %s: %w", group, err)
		}
		if reserved == nil {
			return nil, ErrNotReservable
		}
		if reserved.DeliveryCount > e.cfg.MaxDeliveryAttempts {
			if err := e.moveToDLQ(ctx, group, reserved, model.DLQReasonMaxDeliveries); err != nil {
				e.logger.Error("moving over-delivered message to dlq failed", "group", group, "id", reserved.ID, "error", err.Error())
			}
			continue
		}
		e.metrics.ReservationsTotal.WithLabelValues(group, "durable-scan").Inc()
		e.events.Emit(ctx, telemetry.EventTypeMessageReserved, "queue", map[string]interface{}{"group": group, "id": reserved.ID, "source": "durable-scan"})
		return reserved, nil
	}
}

// reconcileCacheEntry is invoked when a cached candidate lost its
// reservation CAS: if the durable store says it's missing or already
// consumed, the cache entry is stale and is evicted (self-healing);
// otherwise it is likely held by another consumer or not yet due, and is
// left in place.
func (e *Engine) reconcileCacheEntry(ctx context.Context, group, id string) {
	msg, err := e.store.FindByID(ctx, group, id)
	if err != nil {
		e.logger.Warn("reconciling cache entry failed", "group", group, "id", id, "error", err.Error())
		return
	}
	if msg == nil || msg.Consumed {
		if err := e.cache.RemoveOne(ctx, group, id); err != nil {
			e.logger.Warn("evicting stale cache entry failed", "group", group, "id", id, "error", err.Error())
			return
		}
		e.metrics.CacheSelfHealed.WithLabelValues(group).Inc()
		e.events.Emit(ctx, telemetry.EventTypeCacheSelfHealed, "queue", map[string]interface{}{"group": group, "id": id})
	}
}

package queue

import (
	"context"
	"fmt"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// moveToDLQ records msg as a dead letter and atomically marks the live row
// consumed, so the reservation that lost its delivery budget can never be
// handed out again.
func (e *Engine) moveToDLQ(ctx context.Context, group string, msg *model.Message, reason string) error {
	dlq := e.dlqCollection(group)
	if err := e.store.EnsureDLQIndexes(ctx, dlq); err != nil {
		return fmt.Errorf("ensuring dlq indexes for %s: %w", dlq, err)
	}

	now := e.now()
	entry := &model.DLQEntry{
		ID:             msg.ID,
		ConsumerGroup:  group,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Consumed:       true,
		DeliveryCount:  msg.DeliveryCount,
		LastDeliveryAt: msg.LastDeliveryAt,
		LastError:      msg.LastError,
		FailedAt:       now,
		DLQReason:      reason,
	}

	if err := e.store.MoveToDLQ(ctx, group, dlq, entry); err != nil {
		return fmt.Errorf("moving %s/%s to dlq: %w", group, msg.ID, err)
	}

	e.metrics.DLQMoves.WithLabelValues(group, reason).Inc()
	e.events.Emit(ctx, telemetry.EventTypeMessageDLQMoved, "queue", map[string]interface{}{
		"group": group, "id": msg.ID, "reason": reason,
	})
	return nil
}

// ViewDLQ returns the most recent limit dead letters for group, newest
// failure first.
func (e *Engine) ViewDLQ(ctx context.Context, group string, limit int) ([]*model.DLQEntry, error) {
	if err := model.ValidateGroup(group); err != nil {
		return nil, err
	}
	dlq := e.dlqCollection(group)
	if err := e.store.EnsureDLQIndexes(ctx, dlq); err != nil {
		return nil, fmt.Errorf("ensuring dlq indexes for %s: %w", dlq, err)
	}
	entries, err := e.store.FindDLQEntries(ctx, dlq, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dlq entries for %s: %w", group, err)
	}
	return entries, nil
}

// ReplayDLQ reinserts the named dead letters into the live collection under
// fresh ids, removing each from the DLQ on success. It never mutates a DLQ
// entry in place; every replay is a brand new Message.
func (e *Engine) ReplayDLQ(ctx context.Context, group string, ids []string) (int, error) {
	if err := model.ValidateGroup(group); err != nil {
		return 0, err
	}
	dlq := e.dlqCollection(group)
	if err := e.store.EnsureDLQIndexes(ctx, dlq); err != nil {
		return 0, fmt.Errorf("ensuring dlq indexes for %s: %w", dlq, err)
	}
	entries, err := e.store.FindDLQEntries(ctx, dlq, 0)
	if err != nil {
		return 0, fmt.Errorf("listing dlq entries for %s: %w", group, err)
	}
	byID := make(map[string]*model.DLQEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var replayed []string
	count := 0
	now := e.now()
	for _, id := range ids {
		entry, ok := byID[id]
		if !ok || len(entry.Content) == 0 {
			continue
		}
		fresh := &model.Message{
			ID:            newMessageID(),
			ConsumerGroup: group,
			Content:       entry.Content,
			CreatedAt:     now,
			Consumed:      false,
			DeliveryCount: 0,
		}
		if err := e.store.Insert(ctx, group, fresh); err != nil {
			e.logger.Error("replaying dlq entry failed to insert", "group", group, "id", id, "error", err.Error())
			continue
		}
		if err := e.cache.Add(ctx, group, fresh, e.cacheTTL()); err != nil {
			e.logger.Warn("caching replayed message failed", "group", group, "id", fresh.ID, "error", err.Error())
		}
		replayed = append(replayed, id)
		count++
	}

	if len(replayed) > 0 {
		if _, err := e.store.RemoveDLQEntries(ctx, dlq, replayed); err != nil {
			e.logger.Error("removing replayed entries from dlq failed", "group", group, "error", err.Error())
		}
		e.events.Emit(ctx, telemetry.EventTypeMessageReplayed, "queue", map[string]interface{}{
			"group": group, "count": count,
		})
	}
	return count, nil
}

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

const maxCachePeek = 10

// Push validates content, assigns an id, and durably stores the message
// according to the configured write policy, then makes it visible in the
// cache unless it is scheduled for the future.
func (e *Engine) Push(ctx context.Context, group string, content []byte, scheduledAt *time.Time) (*model.Message, error) {
	if err := model.ValidateGroup(group); err != nil {
		return nil, err
	}
	if err := model.ValidateContent(content); err != nil {
		return nil, err
	}
	if err := e.cfg.CheckAsyncScheduleCombination(scheduledAt != nil); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:            newMessageID(),
		ConsumerGroup: group,
		Content:       content,
		CreatedAt:     e.now(),
		Consumed:      false,
		DeliveryCount: 0,
		ScheduledAt:   scheduledAt,
	}

	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return nil, fmt.Errorf("ensuring durable store indexes for %s: %w", group, err)
	}
	e.trackGroup(group)

	future := scheduledAt != nil && scheduledAt.After(e.now())

	if e.cfg.AsyncPersistence {
		e.pushWriteBehind(ctx, group, msg, future)
	} else if err := e.pushWriteThrough(ctx, group, msg, future); err != nil {
		return nil, err
	}

	e.events.Emit(ctx, telemetry.EventTypeMessagePushed, "queue", map[string]interface{}{
		"group": group, "id": msg.ID, "scheduled": scheduledAt != nil,
	})
	return msg, nil
}

func (e *Engine) pushWriteThrough(ctx context.Context, group string, msg *model.Message, future bool) error {
	if err := e.store.Insert(ctx, group, msg); err != nil {
		return fmt.Errorf("persisting message %s: %w", msg.ID, err)
	}
	if !future {
		if err := e.cache.Add(ctx, group, msg, e.cacheTTL()); err != nil {
			// The durable write already succeeded; a cache failure only
			// means this push falls back to the durable-store FIFO scan
			// on the next pop, not data loss.
			e.logger.Warn("caching pushed message failed", "group", group, "id", msg.ID, "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) pushWriteBehind(ctx context.Context, group string, msg *model.Message, future bool) {
	if !future {
		if err := e.cache.Add(ctx, group, msg, e.cacheTTL()); err != nil {
			e.logger.Warn("caching pushed message failed", "group", group, "id", msg.ID, "error", err.Error())
		}
	}
	task := func() {
		e.persistWithRetry(context.Background(), group, msg)
	}
	if !e.pool.submit(task) {
		e.metrics.PersistenceLost.WithLabelValues(group).Inc()
		e.logger.Error("write-behind task dropped, message not durably persisted", "group", group, "id", msg.ID)
	}
}

// persistBackoffSchedule is the fixed retry delay before each of the 3
// write-behind persistence attempts after the first.
var persistBackoffSchedule = [...]time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond}

// persistWithRetry inserts msg into the durable store with bounded
// fixed-delay retries (100ms, 300ms, 900ms; up to 3 retries after the first
// attempt), matching the write-behind policy's durability guarantee.
func (e *Engine) persistWithRetry(ctx context.Context, group string, msg *model.Message) {
	const maxAttempts = len(persistBackoffSchedule) + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.store.Insert(ctx, group, msg); err != nil {
			lastErr = err
			e.metrics.PersistenceRetries.WithLabelValues(group).Inc()
			if attempt < maxAttempts {
				time.Sleep(persistBackoffSchedule[attempt-1])
			}
			continue
		}
		return
	}
	e.metrics.PersistenceLost.WithLabelValues(group).Inc()
	e.logger.Error("write-behind persistence exhausted retries", "group", group, "id", msg.ID, "error", lastErr.Error())
	e.events.Emit(ctx, telemetry.EventTypePersistenceLost, "queue", map[string]interface{}{"group": group, "id": msg.ID})
}

// BatchPush validates every item before any side effect, then groups by
// consumer group to issue one durable-store bulk insert and one cache
// AddMany per group.
func (e *Engine) BatchPush(ctx context.Context, group string, contents [][]byte) ([]*model.Message, error) {
	if err := model.ValidateGroup(group); err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, model.ErrEmptyContent
	}
	for _, c := range contents {
		if err := model.ValidateContent(c); err != nil {
			return nil, err
		}
	}

	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return nil, fmt.Errorf("ensuring durable store indexes for %s: %w", group, err)
	}
	e.trackGroup(group)

	now := e.now()
	msgs := make([]*model.Message, len(contents))
	for i, c := range contents {
		msgs[i] = &model.Message{
			ID:            newMessageID(),
			ConsumerGroup: group,
			Content:       c,
			CreatedAt:     now,
			Consumed:      false,
			DeliveryCount: 0,
		}
	}

	if err := e.store.InsertMany(ctx, group, msgs); err != nil {
		return nil, fmt.Errorf("batch-persisting %d message(s) for %s: %w", len(msgs), group, err)
	}
	if err := e.cache.AddMany(ctx, group, msgs, e.cacheTTL()); err != nil {
		e.logger.Warn("caching batch push failed", "group", group, "count", len(msgs), "error", err.Error())
	}

	e.events.Emit(ctx, telemetry.EventTypeMessagePushed, "queue", map[string]interface{}{"group": group, "count": len(msgs)})
	return msgs, nil
}

package queue

import (
	"context"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// Ack terminally consumes a message: idempotent if the message is already
// consumed, ErrMessageMissing if it never existed. No call ever flips a
// consumed message back to unconsumed.
func (e *Engine) Ack(ctx context.Context, group, id string) error {
	if err := model.ValidateGroup(group); err != nil {
		return err
	}
	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return err
	}

	found, _, err := e.store.Ack(ctx, group, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrMessageMissing
	}

	e.events.Emit(ctx, telemetry.EventTypeMessageAcked, "queue", map[string]interface{}{"group": group, "id": id})
	return nil
}

// BatchAck acks every unconsumed message among ids in one atomic statement,
// returning the count actually modified.
func (e *Engine) BatchAck(ctx context.Context, group string, ids []string) (int64, error) {
	if err := model.ValidateGroup(group); err != nil {
		return 0, err
	}
	n, err := e.store.BatchAck(ctx, group, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.events.Emit(ctx, telemetry.EventTypeMessageAcked, "queue", map[string]interface{}{"group": group, "count": n})
	}
	return n, nil
}

// Nack releases an unconsumed message's reservation immediately, recording
// reason for the next reserver to see as lastError. A nack against a
// missing or already-consumed message is a no-op and never fails the call.
func (e *Engine) Nack(ctx context.Context, group, id, reason string) error {
	if err := model.ValidateGroup(group); err != nil {
		return err
	}
	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return err
	}

	modified, err := e.store.Nack(ctx, group, id, reason, e.now())
	if err != nil {
		return err
	}
	if modified {
		e.events.Emit(ctx, telemetry.EventTypeMessageNacked, "queue", map[string]interface{}{"group": group, "id": id, "reason": reason})
	}
	return nil
}

// ExtendVisibility pushes a reserved message's deadline out by seconds
// (clamped to at least 1), failing with ErrNotReserved if the message isn't
// currently held under an active reservation.
func (e *Engine) ExtendVisibility(ctx context.Context, group, id string, seconds int) error {
	if err := model.ValidateGroup(group); err != nil {
		return err
	}
	if err := e.store.EnsureIndexes(ctx, group); err != nil {
		return err
	}

	ok, err := e.store.ExtendVisibility(ctx, group, id, seconds, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReserved
	}

	e.events.Emit(ctx, telemetry.EventTypeMessageExtended, "queue", map[string]interface{}{"group": group, "id": id, "seconds": seconds})
	return nil
}

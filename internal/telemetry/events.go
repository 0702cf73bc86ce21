package telemetry

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants emitted across the reservation/ack/DLQ/promoter
// pipeline.
const (
	EventTypeMessagePushed     = "com.lightq.message.pushed"
	EventTypeMessageReserved   = "com.lightq.message.reserved"
	EventTypeMessageAcked      = "com.lightq.message.acked"
	EventTypeMessageNacked     = "com.lightq.message.nacked"
	EventTypeMessageExtended   = "com.lightq.message.extended"
	EventTypeMessageDLQMoved   = "com.lightq.message.dlq_moved"
	EventTypeMessageReplayed   = "com.lightq.message.replayed"
	EventTypeMessagePromoted   = "com.lightq.message.promoted"
	EventTypeCacheDegraded     = "com.lightq.cache.degraded"
	EventTypeCacheSelfHealed   = "com.lightq.cache.self_healed"
	EventTypePersistenceLost   = "com.lightq.persistence.lost"
)

// CloudEventEmitter emits internal lifecycle events as CloudEvents via a
// pluggable sink function.
type CloudEventEmitter struct {
	logger Logger
	sink   func(ctx context.Context, event cloudevents.Event) error
}

// NewCloudEventEmitter builds an emitter; a nil sink logs-and-drops, so
// callers without a transport provisioned yet still get observability of
// emission attempts.
func NewCloudEventEmitter(logger Logger, sink func(ctx context.Context, event cloudevents.Event) error) *CloudEventEmitter {
	return &CloudEventEmitter{logger: logger, sink: sink}
}

// Emit builds and dispatches a CloudEvent; emission failures are logged,
// never surfaced to the caller — event emission is observability, not a
// correctness dependency.
func (e *CloudEventEmitter) Emit(ctx context.Context, eventType, source string, data map[string]interface{}) {
	if e.sink == nil {
		e.logger.Debug("dropping event, no sink configured", "type", eventType, "source", source)
		return
	}
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now().UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		e.logger.Warn("failed to encode event data", "type", eventType, "error", err.Error())
		return
	}
	if err := e.sink(ctx, event); err != nil {
		e.logger.Warn("failed to emit event", "type", eventType, "error", err.Error())
	}
}

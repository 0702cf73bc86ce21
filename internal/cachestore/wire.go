package cachestore

import (
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/vmihailenco/msgpack/v5"
)

// wireMessage is the cache's on-the-wire shape for a Message: plain
// exported fields and millisecond timestamps, independent of Message's own
// json tags, so the cache encoding doesn't silently change if the HTTP
// API's JSON shape changes.
type wireMessage struct {
	ID             string `msgpack:"id"`
	ConsumerGroup  string `msgpack:"group"`
	Content        []byte `msgpack:"content"`
	CreatedAt      int64  `msgpack:"created_at"`
	Consumed       bool   `msgpack:"consumed"`
	DeliveryCount  int    `msgpack:"delivery_count"`
	ReservedUntil  int64  `msgpack:"reserved_until,omitempty"`
	LastDeliveryAt int64  `msgpack:"last_delivery_at,omitempty"`
	LastError      string `msgpack:"last_error,omitempty"`
	ScheduledAt    int64  `msgpack:"scheduled_at,omitempty"`
}

func encodeMessage(m *model.Message) ([]byte, error) {
	w := wireMessage{
		ID:            m.ID,
		ConsumerGroup: m.ConsumerGroup,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.UnixMilli(),
		Consumed:      m.Consumed,
		DeliveryCount: m.DeliveryCount,
		LastError:     m.LastError,
	}
	if m.ReservedUntil != nil {
		w.ReservedUntil = m.ReservedUntil.UnixMilli()
	}
	if m.LastDeliveryAt != nil {
		w.LastDeliveryAt = m.LastDeliveryAt.UnixMilli()
	}
	if m.ScheduledAt != nil {
		w.ScheduledAt = m.ScheduledAt.UnixMilli()
	}
	return msgpack.Marshal(&w)
}

func decodeMessage(b []byte) (*model.Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:            w.ID,
		ConsumerGroup: w.ConsumerGroup,
		Content:       w.Content,
		CreatedAt:     time.UnixMilli(w.CreatedAt).UTC(),
		Consumed:      w.Consumed,
		DeliveryCount: w.DeliveryCount,
		LastError:     w.LastError,
	}
	if w.ReservedUntil != 0 {
		t := time.UnixMilli(w.ReservedUntil).UTC()
		m.ReservedUntil = &t
	}
	if w.LastDeliveryAt != 0 {
		t := time.UnixMilli(w.LastDeliveryAt).UTC()
		m.LastDeliveryAt = &t
	}
	if w.ScheduledAt != 0 {
		t := time.UnixMilli(w.ScheduledAt).UTC()
		m.ScheduledAt = &t
	}
	return m, nil
}

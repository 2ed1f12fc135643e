package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventCreated   EventType = "created"
	EventQueued    EventType = "queued"
	EventSending   EventType = "sending"
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventFailed    EventType = "failed"
	EventRetry     EventType = "retry"
	EventReceived  EventType = "received"
)

func (e EventType) String() string { return string(e) }

// EventDetail is a free-form JSON document attached to one lifecycle event.
type EventDetail map[string]any

func (d EventDetail) Value() (driver.Value, error) {
	if d == nil {
		d = EventDetail{}
	}
	return json.Marshal(d)
}

func (d *EventDetail) Scan(src any) error {
	if src == nil {
		*d = EventDetail{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("event detail: unsupported scan type %T", src)
	}
}

// MessageEvent is an append-only record of a single lifecycle transition.
// Exactly one row is written per accepted transition; rows are never mutated.
type MessageEvent struct {
	ID        string      `db:"id" json:"id"`
	MessageID string      `db:"message_id" json:"message_id"`
	EventType EventType   `db:"event_type" json:"event_type"`
	Detail    EventDetail `db:"detail" json:"detail"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

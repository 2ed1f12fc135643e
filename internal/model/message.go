package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelMMS   Channel = "mms"
	ChannelEmail Channel = "email"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelMMS || c == ChannelEmail
}

// Channels lists every supported channel; one delivery queue exists per entry.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelMMS, ChannelEmail}
}

// ParseChannel normalizes input; empty input is not a valid channel.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) String() string { return string(d) }

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusRetry     MessageStatus = "retry"
)

func (s MessageStatus) String() string { return string(s) }

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusDelivered, StatusFailed, StatusRetry:
		return true
	}
	return false
}

// Terminal reports whether no outbound transition may leave s.
func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Attachments is a JSON-encoded list of attachment references stored in a
// single column.
type Attachments []string

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		a = Attachments{}
	}
	return json.Marshal(a)
}

func (a *Attachments) Scan(src any) error {
	if src == nil {
		*a = Attachments{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("attachments: unsupported scan type %T", src)
	}
}

// Message is the DB entity persisted in the messages table. Rows are never
// deleted; status moves only through lifecycle.Machine.
type Message struct {
	ID                string        `db:"id" json:"id"`
	ConversationID    string        `db:"conversation_id" json:"conversation_id"`
	Direction         Direction     `db:"direction" json:"direction"`
	Channel           Channel       `db:"channel" json:"channel"`
	Status            MessageStatus `db:"status" json:"status"`
	Provider          string        `db:"provider" json:"provider"`
	ProviderMessageID *string       `db:"provider_message_id" json:"provider_message_id"`
	Attempts          int           `db:"attempts" json:"attempts"`
	MaxRetries        int           `db:"max_retries" json:"max_retries"`
	NextAttemptAt     *time.Time    `db:"next_attempt_at" json:"next_attempt_at"`
	FromAddress       string        `db:"from_address" json:"from_address"`
	ToAddress         string        `db:"to_address" json:"to_address"`
	Body              string        `db:"body" json:"body"`
	Attachments       Attachments   `db:"attachments" json:"attachments"`
	ErrorMessage      *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at"`
	DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at"`
	FailedAt          *time.Time    `db:"failed_at" json:"failed_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

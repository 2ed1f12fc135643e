package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
)

// ErrUnavailable marks infrastructure failures on the queue path. The enqueue
// side surfaces it to the caller; the consume side logs and backs off.
var ErrUnavailable = errors.New("queue unavailable")

// ForChannel maps a message channel to its delivery queue name.
func ForChannel(c model.Channel) string {
	return "messages:" + c.String()
}

// Payload is the wire format of a queue entry. It carries just enough to
// re-load the message row on dequeue; message content is never duplicated
// into the queue, so a redelivered entry can't act on stale state.
type Payload struct {
	MessageID  string    `json:"message_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Entry is one delivered queue record. ID is monotonic within its queue for
// the Redis backend and partition/offset for Kafka.
type Entry struct {
	ID      string
	Payload []byte

	raw any // backend handle needed for Ack
}

// Queue is a durable, ordered, at-least-once log per queue name. Dequeue is
// consumer-group scoped: concurrent consumers in one group receive disjoint
// batches, and entries whose consumer died become reclaimable after a
// timeout. Entries may be redelivered; consumers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload []byte) (string, error)
	Dequeue(ctx context.Context, queue, group, consumer string, count int, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, queue, group string, e Entry) error
	Depth(ctx context.Context, queue string) (int64, error)
	Close() error
}

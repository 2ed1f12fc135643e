package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue implements Queue on Kafka topics, one topic per queue name.
// Group offsets live on the broker, so the consumer cursor survives process
// restarts the same way the stream backend's does; claim-back falls out of
// Kafka's group rebalancing.
type KafkaQueue struct {
	brokers        []string
	minBytes       int
	maxBytes       int
	commitInterval time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader // keyed by queue/group
}

type KafkaOpts struct {
	Brokers        []string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s
}

func NewKafkaQueue(opts KafkaOpts) *KafkaQueue {
	min := opts.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := opts.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	ci := opts.CommitInterval
	if ci <= 0 {
		ci = time.Second
	}

	return &KafkaQueue{
		brokers:        opts.Brokers,
		minBytes:       min,
		maxBytes:       max,
		commitInterval: ci,
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
	}
}

func (q *KafkaQueue) writer(queue string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.writers[queue]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(q.brokers...),
		Topic:                  queue,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	q.writers[queue] = w
	return w
}

func (q *KafkaQueue) reader(queue, group string) *kafka.Reader {
	key := queue + "/" + group
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.readers[key]; ok {
		return r
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        q.brokers,
		Topic:          queue,
		GroupID:        group,
		MinBytes:       q.minBytes,
		MaxBytes:       q.maxBytes,
		CommitInterval: q.commitInterval,
		MaxWait:        50 * time.Millisecond,
	})
	q.readers[key] = r
	return r
}

func (q *KafkaQueue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	err := q.writer(queue).WriteMessages(ctx, kafka.Message{Value: payload})
	if err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrUnavailable, queue, err)
	}
	// kafka-go does not report the offset on produce; the id is only
	// informational for callers, so the queue name suffices here.
	return queue, nil
}

func (q *KafkaQueue) Dequeue(ctx context.Context, queue, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	if count <= 0 {
		count = 1
	}
	r := q.reader(queue, group)

	fetchCtx, cancel := context.WithTimeout(ctx, block)
	defer cancel()

	var out []Entry
	for len(out) < count {
		m, err := r.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return out, nil // block window elapsed
			}
			if len(out) > 0 {
				return out, nil
			}
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, queue, err)
		}
		out = append(out, Entry{
			ID:      fmt.Sprintf("%d-%d", m.Partition, m.Offset),
			Payload: m.Value,
			raw:     m,
		})
	}
	return out, nil
}

func (q *KafkaQueue) Ack(ctx context.Context, queue, group string, e Entry) error {
	m, ok := e.raw.(kafka.Message)
	if !ok {
		return fmt.Errorf("kafka ack: entry %s has no message handle", e.ID)
	}
	if err := q.reader(queue, group).CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("%w: commit %s %s: %v", ErrUnavailable, queue, e.ID, err)
	}
	return nil
}

// Depth reports consumer lag of the dispatch group, which is exactly the
// unacknowledged count for a committed-offset log.
func (q *KafkaQueue) Depth(ctx context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, r := range q.readers {
		if strings.HasPrefix(key, queue+"/") {
			return r.Stats().Lag, nil
		}
	}
	return 0, nil
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var first error
	for _, w := range q.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, r := range q.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

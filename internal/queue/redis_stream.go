package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dataField = "data"

// RedisStreams implements Queue on Redis Streams. Read position is held by
// Redis per consumer group (XREADGROUP/XACK), not in process memory, so any
// number of workers can share a queue and a restart never re-reads acked
// entries. Entries pending longer than claimAfter are claimed back from dead
// consumers via XAUTOCLAIM.
type RedisStreams struct {
	rdb        *redis.Client
	claimAfter time.Duration

	mu     sync.Mutex
	groups map[string]struct{} // "queue/group" pairs already created
}

func NewRedisStreams(rdb *redis.Client, claimAfter time.Duration) *RedisStreams {
	if claimAfter <= 0 {
		claimAfter = time.Minute
	}
	return &RedisStreams{
		rdb:        rdb,
		claimAfter: claimAfter,
		groups:     make(map[string]struct{}),
	}
}

func (q *RedisStreams) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]any{dataField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", ErrUnavailable, queue, err)
	}
	return id, nil
}

func (q *RedisStreams) ensureGroup(ctx context.Context, queue, group string) error {
	key := queue + "/" + group
	q.mu.Lock()
	_, ok := q.groups[key]
	q.mu.Unlock()
	if ok {
		return nil
	}

	err := q.rdb.XGroupCreateMkStream(ctx, queue, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group %s on %s: %v", ErrUnavailable, group, queue, err)
	}

	q.mu.Lock()
	q.groups[key] = struct{}{}
	q.mu.Unlock()
	return nil
}

func (q *RedisStreams) Dequeue(ctx context.Context, queue, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	if count <= 0 {
		count = 1
	}
	if err := q.ensureGroup(ctx, queue, group); err != nil {
		return nil, err
	}

	var out []Entry

	// Reclaim entries stuck with crashed consumers first.
	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queue,
		Group:    group,
		Consumer: consumer,
		MinIdle:  q.claimAfter,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: xautoclaim %s: %v", ErrUnavailable, queue, err)
	}
	for _, m := range claimed {
		out = append(out, entryFromStream(m))
	}
	if len(out) >= count {
		return out, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{queue, ">"},
		Count:    int64(count - len(out)),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return out, nil // nothing new within the block window
		}
		return nil, fmt.Errorf("%w: xreadgroup %s: %v", ErrUnavailable, queue, err)
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, entryFromStream(m))
		}
	}
	return out, nil
}

func entryFromStream(m redis.XMessage) Entry {
	var payload []byte
	if v, ok := m.Values[dataField]; ok {
		switch d := v.(type) {
		case string:
			payload = []byte(d)
		case []byte:
			payload = d
		}
	}
	return Entry{ID: m.ID, Payload: payload}
}

func (q *RedisStreams) Ack(ctx context.Context, queue, group string, e Entry) error {
	if err := q.rdb.XAck(ctx, queue, group, e.ID).Err(); err != nil {
		return fmt.Errorf("%w: xack %s %s: %v", ErrUnavailable, queue, e.ID, err)
	}
	return nil
}

// Depth returns the stream length. Acked entries are trimmed lazily, so this
// is an upper bound; the contract only asks for an approximate count.
func (q *RedisStreams) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := q.rdb.XLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xlen %s: %v", ErrUnavailable, queue, err)
	}
	return n, nil
}

func (q *RedisStreams) Close() error { return nil }

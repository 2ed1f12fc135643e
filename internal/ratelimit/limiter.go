package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/util"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is how long the caller should wait before the window frees a
	// slot. Positive on rejection; on allowance it is the full window.
	Reset time.Duration
}

// Limiter is a sliding-window admission controller keyed by
// (client, endpoint). Each key holds a Redis ZSET of request timestamps;
// prune, count and insert run inside one Lua script so two racing requests
// can never both be admitted past the limit.
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, prefix: "rl:"}
}

// checkScript prunes timestamps older than the window, counts the rest, and
// either rejects (returning the earliest surviving timestamp) or records the
// request. Times are in milliseconds.
//
// KEYS[1] window zset
// ARGV[1] now_ms, ARGV[2] window_ms, ARGV[3] limit, ARGV[4] member
// Returns {count, earliest_ms, admitted}
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {count, tonumber(earliest[2]), 0}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 1000)
return {count, 0, 1}
`)

// Check admits or rejects one request for (clientKey, endpoint) under
// limit requests per window. If Redis is unreachable it fails open:
// admission control protects capacity, not correctness.
func (l *Limiter) Check(ctx context.Context, clientKey, endpoint string, limit int, window time.Duration) Decision {
	if limit <= 0 || l.rdb == nil {
		return failOpen(limit, window)
	}

	key := l.prefix + clientKey + ":" + endpoint
	now := time.Now()

	res, err := checkScript.Run(ctx, l.rdb, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member(now)).Int64Slice()
	if err != nil || len(res) != 3 {
		return failOpen(limit, window)
	}

	return decide(int(res[0]), res[1], res[2] == 1, now, limit, window)
}

// decide maps the script result onto a Decision. Split out so the window
// arithmetic is testable without Redis.
func decide(count int, earliestMs int64, admitted bool, now time.Time, limit int, window time.Duration) Decision {
	if !admitted {
		reset := time.Duration(earliestMs)*time.Millisecond + window - time.Duration(now.UnixMilli())*time.Millisecond
		if reset < time.Second {
			reset = time.Second
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}
	}

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, Reset: window}
}

// member builds the zset member for an admitted request. The score carries
// the timestamp; the ULID suffix keeps two admissions in the same millisecond
// from collapsing into one entry and undercounting the window.
func member(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + util.NewID()
}

func failOpen(limit int, window time.Duration) Decision {
	return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: window}
}

package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecideAdmitted(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	window := time.Minute

	d := decide(0, 0, true, now, 10, window)
	assert.True(t, d.Allowed)
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, 9, d.Remaining)
	assert.Equal(t, window, d.Reset)

	// last slot
	d = decide(9, 0, true, now, 10, window)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestDecideRejected(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	window := time.Minute

	// earliest request 20s into its window: slot frees in 40s
	earliest := now.Add(-20 * time.Second).UnixMilli()
	d := decide(10, earliest, false, now, 10, window)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 40*time.Second, d.Reset)
}

func TestDecideRejectedResetFloor(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	window := time.Minute

	// earliest entry is about to expire; reset still reports at least 1s so
	// clients do not hammer the boundary
	earliest := now.Add(-window + 10*time.Millisecond).UnixMilli()
	d := decide(10, earliest, false, now, 10, window)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.Reset)
}

func TestFailOpen(t *testing.T) {
	d := failOpen(100, time.Minute)
	assert.True(t, d.Allowed)
	assert.Equal(t, 100, d.Remaining)
}

func TestMemberUniquePerRequest(t *testing.T) {
	// two admissions in the same millisecond must land as distinct zset
	// members or the window undercounts under burst
	now := time.UnixMilli(1_700_000_000_000)
	a := member(now)
	b := member(now)

	assert.True(t, strings.HasPrefix(a, "1700000000000-"))
	assert.True(t, strings.HasPrefix(b, "1700000000000-"))
	assert.NotEqual(t, a, b)
}

func TestCheckWithoutRedisFailsOpen(t *testing.T) {
	l := &Limiter{prefix: "rl:"}
	d := l.Check(context.Background(), "client", "messages", 5, time.Minute)
	assert.True(t, d.Allowed)
}

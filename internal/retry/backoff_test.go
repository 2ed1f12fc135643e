package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelayRateLimited(t *testing.T) {
	s := NewScheduler(60*time.Second, 3)

	// doubles per attempt
	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindRateLimited, 0, 0))
	assert.Equal(t, 120*time.Second, s.ComputeDelay(KindRateLimited, 1, 0))
	assert.Equal(t, 240*time.Second, s.ComputeDelay(KindRateLimited, 2, 0))

	// provider hint wins when larger
	assert.Equal(t, 300*time.Second, s.ComputeDelay(KindRateLimited, 0, 300))
	// but never shrinks the backoff
	assert.Equal(t, 240*time.Second, s.ComputeDelay(KindRateLimited, 2, 10))
}

func TestComputeDelayServerError(t *testing.T) {
	s := NewScheduler(60*time.Second, 3)

	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindServerError, 0, 0))
	assert.Equal(t, 90*time.Second, s.ComputeDelay(KindServerError, 1, 0))
	assert.Equal(t, 135*time.Second, s.ComputeDelay(KindServerError, 2, 0))

	// hints only apply to rate limits
	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindServerError, 0, 600))
}

func TestComputeDelayLinear(t *testing.T) {
	s := NewScheduler(60*time.Second, 3)

	// circuit-open and other failures back off linearly, never below base
	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindCircuitOpen, 0, 0))
	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindCircuitOpen, 1, 0))
	assert.Equal(t, 120*time.Second, s.ComputeDelay(KindCircuitOpen, 2, 0))
	assert.Equal(t, 180*time.Second, s.ComputeDelay(KindCircuitOpen, 3, 0))
}

func TestComputeDelayDeterministic(t *testing.T) {
	s := NewScheduler(30*time.Second, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, s.ComputeDelay(KindServerError, 2, 0), s.ComputeDelay(KindServerError, 2, 0))
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, 0)
	assert.Equal(t, 60*time.Second, s.Base)
	assert.Equal(t, 3, s.MaxRetries)

	// negative attempts clamp to zero
	assert.Equal(t, 60*time.Second, s.ComputeDelay(KindRateLimited, -4, 0))
}

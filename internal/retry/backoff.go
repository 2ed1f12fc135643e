// Package retry maps a classified provider failure and attempt count to the
// delay before the next send. Pure arithmetic: no clock, no randomness.
package retry

import (
	"math"
	"time"
)

// FailureKind classifies a retryable provider outcome.
type FailureKind int

const (
	KindRateLimited FailureKind = iota
	KindServerError
	KindCircuitOpen
)

// Scheduler computes backoff delays. Base defaults to 60s, MaxRetries to 3.
type Scheduler struct {
	Base       time.Duration
	MaxRetries int
}

func NewScheduler(base time.Duration, maxRetries int) Scheduler {
	if base <= 0 {
		base = 60 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return Scheduler{Base: base, MaxRetries: maxRetries}
}

// ComputeDelay returns the wait before attempt+1. hint is the provider's
// Retry-After in seconds (0 when absent) and is honored only for rate
// limits. Callers must not invoke this once attempts are exhausted; they
// transition the message to failed instead.
func (s Scheduler) ComputeDelay(kind FailureKind, attempt int, hintSeconds int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	switch kind {
	case KindRateLimited:
		backoff := scale(s.Base, math.Pow(2, float64(attempt)))
		hint := time.Duration(hintSeconds) * time.Second
		if hint > backoff {
			return hint
		}
		return backoff
	case KindServerError:
		return scale(s.Base, math.Pow(1.5, float64(attempt)))
	default:
		if attempt < 1 {
			attempt = 1
		}
		return scale(s.Base, float64(attempt))
	}
}

func scale(base time.Duration, factor float64) time.Duration {
	return time.Duration(float64(base) * factor).Round(time.Millisecond)
}

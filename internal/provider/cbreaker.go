package provider

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// MicroBreaker is a small per-provider circuit breaker. After failThreshold
// consecutive failures it opens for openFor; while open, callers are turned
// away without touching the provider. After the cooldown a single probe is
// admitted (half-open); its success closes the circuit, its failure reopens
// it and restarts the cooldown.
type MicroBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool

	onOpen func() // optional, metrics hook
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = time.Minute
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor}
}

// OnOpen registers a callback fired each time the breaker trips open.
func (b *MicroBreaker) OnOpen(fn func()) { b.onOpen = fn }

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.st {
	case closed:
		return true
	case open:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		hook := b.onOpen
		b.mu.Unlock()
		if hook != nil {
			hook()
		}
		return
	}

	b.consecutiveFails++
	var hook func()
	if b.consecutiveFails >= b.failThreshold && b.st != open {
		b.st = open
		b.nextTryAt = time.Now().Add(b.openFor)
		hook = b.onOpen
	}
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
}

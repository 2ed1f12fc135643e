package worker

import (
	"context"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"go.uber.org/zap"
)

// Scanner periodically re-enqueues retry messages whose backoff elapsed and
// recovers messages stuck in sending after a worker crash. Both scans are
// idempotent: the dispatcher's conditional send transition drops anything
// enqueued twice.
type Scanner struct {
	msgs       repository.MessagesRepository
	machine    Transitioner
	q          queue.Queue
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

type ScannerOpts struct {
	Messages   repository.MessagesRepository
	Machine    Transitioner
	Queue      queue.Queue
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

func NewScanner(o ScannerOpts) *Scanner {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return &Scanner{
		msgs:       o.Messages,
		machine:    o.Machine,
		q:          o.Queue,
		interval:   o.Interval,
		staleAfter: o.StaleAfter,
		batch:      o.BatchSize,
		now:        time.Now,
	}
}

// Run ticks until ctx is canceled.
func (s *Scanner) Run(ctx context.Context) {
	logger.Log.Info("scanner started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter))

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("scanner stopped")
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	if err := s.enqueueDueRetries(ctx); err != nil {
		logger.Log.Error("scanner: retry scan failed", zap.Error(err))
	}
	if err := s.recoverStaleSending(ctx); err != nil {
		logger.Log.Error("scanner: stale scan failed", zap.Error(err))
	}
}

func (s *Scanner) enqueueDueRetries(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.msgs.SelectDueRetries(ctx, now, s.batch)
	if err != nil {
		return err
	}

	for i := range due {
		m := &due[i]
		p := queue.Payload{MessageID: m.ID, Attempt: m.Attempts, EnqueuedAt: now}
		data, err := p.Encode()
		if err != nil {
			return err
		}
		if _, err := s.q.Enqueue(ctx, queue.ForChannel(m.Channel), data); err != nil {
			return err
		}

		// Clearing next_attempt_at keeps the row out of the next scan while
		// the entry waits in the queue. Conditional on status so a concurrent
		// transition is never overwritten; zero rows is fine either way.
		_, err = s.msgs.ApplyTransition(ctx, nil, repository.TransitionUpdate{
			MessageID:        m.ID,
			ExpectedStatus:   model.StatusRetry,
			NewStatus:        model.StatusRetry,
			ClearNextAttempt: true,
		})
		if err != nil {
			return err
		}

		logger.Log.Debug("scanner: retry re-enqueued",
			zap.String("message_id", m.ID),
			zap.Int("attempt", m.Attempts))
	}
	return nil
}

// recoverStaleSending flips messages stuck in sending back to retry with an
// immediate next attempt. The flip goes through the machine so it is
// conditional and leaves an event.
func (s *Scanner) recoverStaleSending(ctx context.Context) error {
	now := s.now().UTC()
	stale, err := s.msgs.SelectStaleSending(ctx, now.Add(-s.staleAfter), s.batch)
	if err != nil {
		return err
	}

	for i := range stale {
		m := &stale[i]
		next := now
		out, err := s.machine.Apply(ctx, m, lifecycle.TransitionRetry, lifecycle.Detail{
			NextAttemptAt: &next,
			FailureKind:   "stale_sending",
			Error:         "send did not complete within " + s.staleAfter.String(),
		})
		if err != nil {
			return err
		}
		if out == lifecycle.Applied {
			logger.Log.Warn("scanner: recovered stale sending message",
				zap.String("message_id", m.ID),
				zap.Int("attempt", m.Attempts))
		}
	}
	return nil
}

// Package worker hosts the background consumers: the Dispatcher draining the
// per-channel delivery queues and the Scanner re-enqueueing due retries.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/retry"
	"go.uber.org/zap"
)

// errorBackoff is the pause after a queue or store failure before the next
// dequeue, so an outage does not turn into a hot loop.
const errorBackoff = time.Second

// settleGrace bounds how long an entry already marked sending may take to
// finish its provider call and record the outcome once shutdown begins.
const settleGrace = 30 * time.Second

// Transitioner is the slice of the lifecycle machine the workers need.
type Transitioner interface {
	Apply(ctx context.Context, m *model.Message, t lifecycle.Transition, d lifecycle.Detail) (lifecycle.Outcome, error)
}

// Dispatcher consumes one delivery queue per channel, drives each message
// through send, and records the outcome transition. It is duplicate-tolerant:
// a redelivered entry whose message already left pending or retry is acked
// and dropped.
type Dispatcher struct {
	q        queue.Queue
	msgs     repository.MessagesRepository
	machine  Transitioner
	gw       *provider.Gateway
	sched    retry.Scheduler
	group    string
	consumer string
	batch    int
	block    time.Duration
	now      func() time.Time
}

type DispatcherOpts struct {
	Queue     queue.Queue
	Messages  repository.MessagesRepository
	Machine   Transitioner
	Gateway   *provider.Gateway
	Scheduler retry.Scheduler
	Group     string
	Consumer  string
	BatchSize int
	Block     time.Duration
}

func NewDispatcher(o DispatcherOpts) *Dispatcher {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Block <= 0 {
		o.Block = time.Second
	}
	return &Dispatcher{
		q:        o.Queue,
		msgs:     o.Messages,
		machine:  o.Machine,
		gw:       o.Gateway,
		sched:    o.Scheduler,
		group:    o.Group,
		consumer: o.Consumer,
		batch:    o.BatchSize,
		block:    o.Block,
		now:      time.Now,
	}
}

// Run consumes the queue for channel c until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, c model.Channel) {
	qname := queue.ForChannel(c)
	logger.Log.Info("dispatcher started",
		zap.String("queue", qname),
		zap.String("group", d.group),
		zap.String("consumer", d.consumer))

	for ctx.Err() == nil {
		entries, err := d.q.Dequeue(ctx, qname, d.group, d.consumer, d.batch, d.block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Log.Error("dispatcher: dequeue failed", zap.String("queue", qname), zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}

		if depth, err := d.q.Depth(ctx, qname); err == nil {
			metrics.QueueDepth.WithLabelValues(qname).Set(float64(depth))
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			if err := d.handle(ctx, qname, e); err != nil {
				// leave the entry unacked and drop the rest of the batch:
				// acking a later entry would advance a committed-offset
				// backend past this one, and it would never be redelivered
				logger.Log.Error("dispatcher: entry failed",
					zap.String("queue", qname),
					zap.String("entry_id", e.ID),
					zap.Error(err))
				sleep(ctx, errorBackoff)
				break
			}
		}
	}

	logger.Log.Info("dispatcher stopped", zap.String("queue", qname))
}

// handle processes one queue entry end to end. A nil return means the entry
// was acked, whether it was sent, scheduled for retry, failed, or dropped as
// a duplicate. An error return leaves the entry unacked for redelivery.
func (d *Dispatcher) handle(ctx context.Context, qname string, e queue.Entry) error {
	p, err := queue.DecodePayload(e.Payload)
	if err != nil {
		// malformed entries can never succeed; drop them
		logger.Log.Warn("dispatcher: malformed payload",
			zap.String("queue", qname), zap.String("entry_id", e.ID), zap.Error(err))
		return d.q.Ack(ctx, qname, d.group, e)
	}

	m, err := d.msgs.Get(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if m == nil {
		logger.Log.Warn("dispatcher: entry for unknown message",
			zap.String("queue", qname), zap.String("message_id", p.MessageID))
		return d.q.Ack(ctx, qname, d.group, e)
	}

	if m.Status != model.StatusPending && m.Status != model.StatusRetry {
		// duplicate delivery or a webhook raced ahead
		return d.q.Ack(ctx, qname, d.group, e)
	}

	if m.Status == model.StatusRetry && m.Attempts >= m.MaxRetries {
		// attempts are exhausted; settle without touching the provider
		if _, err := d.machine.Apply(ctx, m, lifecycle.TransitionFail, lifecycle.Detail{
			FailureKind: "attempts_exhausted",
			Error:       fmt.Sprintf("no attempts left after %d failures", m.Attempts),
		}); err != nil {
			return err
		}
		return d.q.Ack(ctx, qname, d.group, e)
	}

	out, err := d.machine.Apply(ctx, m, lifecycle.TransitionSend, lifecycle.Detail{})
	if err != nil {
		return err
	}
	if out == lifecycle.Stale {
		// a concurrent consumer claimed this message
		return d.q.Ack(ctx, qname, d.group, e)
	}

	// the message is marked sending now; let the provider call and the
	// settling transition finish even if shutdown cancels ctx mid-flight,
	// otherwise the row sits in sending until the stale scan reclaims it
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleGrace)
	defer cancel()

	res := d.gw.Send(sctx, *m)
	if err := d.settle(sctx, m, res); err != nil {
		return err
	}
	return d.q.Ack(sctx, qname, d.group, e)
}

// settle records the transition matching the send outcome.
func (d *Dispatcher) settle(ctx context.Context, m *model.Message, res provider.SendResult) error {
	switch {
	case res.Status == provider.SendSuccess:
		_, err := d.machine.Apply(ctx, m, lifecycle.TransitionSent, lifecycle.Detail{
			ProviderMessageID: res.ProviderMessageID,
		})
		return err

	case res.Status.Retryable() && m.Attempts < m.MaxRetries:
		delay := d.sched.ComputeDelay(failureKind(res.Status), m.Attempts, res.RetryAfterSeconds)
		next := d.now().UTC().Add(delay)
		_, err := d.machine.Apply(ctx, m, lifecycle.TransitionRetry, lifecycle.Detail{
			NextAttemptAt: &next,
			FailureKind:   res.Status.String(),
			Error:         res.Detail,
		})
		return err

	default:
		// validation error, or retryable failure with attempts exhausted
		_, err := d.machine.Apply(ctx, m, lifecycle.TransitionFail, lifecycle.Detail{
			FailureKind: res.Status.String(),
			Error:       res.Detail,
		})
		return err
	}
}

func failureKind(s provider.SendStatus) retry.FailureKind {
	switch s {
	case provider.SendRateLimited:
		return retry.KindRateLimited
	case provider.SendServerError:
		return retry.KindServerError
	default:
		return retry.KindCircuitOpen
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

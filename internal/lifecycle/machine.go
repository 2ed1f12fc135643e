// Package lifecycle enforces the message status graph:
//
//	pending -> sending -> sent -> delivered
//	           sending -> retry -> sending (bounded by attempts)
//	           sending|retry -> failed
//
// Every accepted transition is one conditional UPDATE keyed on the expected
// prior status plus one appended MessageEvent, in a single transaction.
// An illegal or lost-race transition is a stale no-op, not an error; that is
// what makes the machine safe against duplicate queue delivery and
// out-of-order webhook arrival.
package lifecycle

import (
	"context"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/util"
	"github.com/jmoiron/sqlx"
)

type Transition string

const (
	TransitionSend    Transition = "send"    // pending|retry -> sending
	TransitionSent    Transition = "sent"    // sending -> sent
	TransitionRetry   Transition = "retry"   // sending -> retry
	TransitionFail    Transition = "fail"    // sending|retry -> failed
	TransitionDeliver Transition = "deliver" // sent -> delivered
)

var predecessors = map[Transition][]model.MessageStatus{
	TransitionSend:    {model.StatusPending, model.StatusRetry},
	TransitionSent:    {model.StatusSending},
	TransitionRetry:   {model.StatusSending},
	TransitionFail:    {model.StatusSending, model.StatusRetry},
	TransitionDeliver: {model.StatusSent},
}

var targets = map[Transition]model.MessageStatus{
	TransitionSend:    model.StatusSending,
	TransitionSent:    model.StatusSent,
	TransitionRetry:   model.StatusRetry,
	TransitionFail:    model.StatusFailed,
	TransitionDeliver: model.StatusDelivered,
}

var events = map[Transition]model.EventType{
	TransitionSend:    model.EventSending,
	TransitionSent:    model.EventSent,
	TransitionRetry:   model.EventRetry,
	TransitionFail:    model.EventFailed,
	TransitionDeliver: model.EventDelivered,
}

// Allowed reports whether t may leave status from.
func Allowed(from model.MessageStatus, t Transition) bool {
	for _, s := range predecessors[t] {
		if s == from {
			return true
		}
	}
	return false
}

// Target returns the status t lands in.
func Target(t Transition) model.MessageStatus { return targets[t] }

type Outcome int

const (
	// Applied means this caller's transition won and one event was recorded.
	Applied Outcome = iota
	// Stale means the message was not in a legal prior status, either from
	// the start or because a concurrent writer moved it first. Not an error.
	Stale
)

// Detail carries the per-transition fields recorded on the message row and
// in the event log.
type Detail struct {
	ProviderMessageID string
	NextAttemptAt     *time.Time
	FailureKind       string
	Error             string
}

// Machine applies transitions against the store.
type Machine struct {
	db     *sqlx.DB
	msgs   repository.MessagesRepository
	events repository.EventsRepository
	now    func() time.Time
}

func NewMachine(db *sqlx.DB, msgs repository.MessagesRepository, events repository.EventsRepository) *Machine {
	return &Machine{db: db, msgs: msgs, events: events, now: time.Now}
}

// Apply attempts transition t on m. On Applied, m is updated in place to the
// new state. On Stale nothing was written and m is left untouched; the
// caller may re-read and retry, or simply move on.
func (sm *Machine) Apply(ctx context.Context, m *model.Message, t Transition, d Detail) (Outcome, error) {
	if !Allowed(m.Status, t) {
		return Stale, nil
	}

	now := sm.now().UTC()
	upd := repository.TransitionUpdate{
		MessageID:      m.ID,
		ExpectedStatus: m.Status,
		NewStatus:      targets[t],
	}
	detail := model.EventDetail{}

	switch t {
	case TransitionSend:
		upd.ClearNextAttempt = true
		detail["attempt"] = m.Attempts + 1
	case TransitionSent:
		upd.ProviderMessageID = &d.ProviderMessageID
		upd.SentAt = &now
		detail["provider_message_id"] = d.ProviderMessageID
	case TransitionRetry:
		upd.IncrementAttempts = true
		upd.NextAttemptAt = d.NextAttemptAt
		upd.ErrorMessage = &d.Error
		detail["error"] = d.Error
		detail["error_type"] = d.FailureKind
		detail["attempt"] = m.Attempts + 1
		if d.NextAttemptAt != nil {
			detail["next_attempt_at"] = d.NextAttemptAt.Format(time.RFC3339)
		}
	case TransitionFail:
		upd.FailedAt = &now
		upd.ErrorMessage = &d.Error
		detail["error"] = d.Error
		if d.FailureKind != "" {
			detail["error_type"] = d.FailureKind
		}
	case TransitionDeliver:
		upd.DeliveredAt = &now
	}

	tx, err := sm.db.BeginTxx(ctx, nil)
	if err != nil {
		return Stale, err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := sm.msgs.ApplyTransition(ctx, tx, upd)
	if err != nil {
		return Stale, err
	}
	if !applied {
		return Stale, nil
	}

	ev := model.MessageEvent{
		ID:        util.NewID(),
		MessageID: m.ID,
		EventType: events[t],
		Detail:    detail,
	}
	if err := sm.events.Insert(ctx, tx, ev); err != nil {
		return Stale, err
	}

	if err := tx.Commit(); err != nil {
		return Stale, err
	}

	sm.advance(m, t, d, now)
	metrics.MessagesTotal.WithLabelValues(m.Status.String(), m.Channel.String()).Inc()
	return Applied, nil
}

// advance mirrors the committed UPDATE onto the in-memory message.
func (sm *Machine) advance(m *model.Message, t Transition, d Detail, now time.Time) {
	m.Status = targets[t]
	m.UpdatedAt = now
	switch t {
	case TransitionSend:
		m.NextAttemptAt = nil
	case TransitionSent:
		id := d.ProviderMessageID
		m.ProviderMessageID = &id
		m.SentAt = &now
	case TransitionRetry:
		m.Attempts++
		m.NextAttemptAt = d.NextAttemptAt
		errMsg := d.Error
		m.ErrorMessage = &errMsg
	case TransitionFail:
		m.FailedAt = &now
		errMsg := d.Error
		m.ErrorMessage = &errMsg
	case TransitionDeliver:
		m.DeliveredAt = &now
	}
}

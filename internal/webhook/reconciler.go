// Package webhook reconciles provider callbacks with the local message
// store: delivery receipts advance outbound messages, inbound notifications
// create new messages. Processing is idempotent end to end, so a provider
// may retry the same callback freely.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/util"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	ErrUnknownProvider = errors.New("unknown webhook provider")
	ErrSignature       = errors.New("webhook signature rejected")
	ErrBadPayload      = errors.New("webhook payload rejected")
)

// Result reports what one callback did. Duplicate means the event id was
// already seen and nothing was processed. Applied means a state change was
// written; a false Applied with no error is a benign no-op (stale receipt,
// unknown provider message id).
type Result struct {
	Duplicate bool
	Applied   bool
	MessageID string
}

// StatusApplier is the slice of the lifecycle machine receipts need.
type StatusApplier interface {
	Apply(ctx context.Context, m *model.Message, t lifecycle.Transition, d lifecycle.Detail) (lifecycle.Outcome, error)
}

type Reconciler struct {
	db      *sqlx.DB
	msgs    repository.MessagesRepository
	events  repository.EventsRepository
	convs   repository.ConversationsRepository
	gw      *provider.Gateway
	machine StatusApplier
	dedup   DedupStore
	now     func() time.Time
}

func NewReconciler(
	db *sqlx.DB,
	msgs repository.MessagesRepository,
	events repository.EventsRepository,
	convs repository.ConversationsRepository,
	gw *provider.Gateway,
	machine StatusApplier,
	dedup DedupStore,
) *Reconciler {
	return &Reconciler{
		db:      db,
		msgs:    msgs,
		events:  events,
		convs:   convs,
		gw:      gw,
		machine: machine,
		dedup:   dedup,
		now:     time.Now,
	}
}

// Handle validates, deduplicates, and applies one provider callback.
func (r *Reconciler) Handle(ctx context.Context, providerName string, headers http.Header, body []byte) (Result, error) {
	p, ok := r.gw.ForName(providerName)
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "unknown_provider").Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	if !p.ValidateInbound(headers, body) {
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "bad_signature").Inc()
		return Result{}, ErrSignature
	}

	ev, err := p.NormalizeInbound(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "bad_payload").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	first, err := r.dedup.FirstSeen(ctx, providerName, ev.EventID)
	if err != nil {
		return Result{}, err
	}
	if !first {
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "duplicate").Inc()
		return Result{Duplicate: true}, nil
	}

	switch ev.Kind {
	case provider.InboundStatus:
		return r.applyReceipt(ctx, providerName, ev)
	default:
		return r.createInbound(ctx, providerName, ev)
	}
}

// applyReceipt advances the outbound message named by the receipt. A receipt
// for an unknown or already-settled message is acknowledged without effect;
// rejecting it would only make the provider retry forever.
func (r *Reconciler) applyReceipt(ctx context.Context, providerName string, ev provider.InboundEvent) (Result, error) {
	m, err := r.msgs.GetByProviderMessageID(ctx, providerName, ev.ProviderMessageID)
	if err != nil {
		return Result{}, err
	}
	if m == nil {
		logger.Log.Warn("webhook: receipt for unknown message",
			zap.String("provider", providerName),
			zap.String("provider_message_id", ev.ProviderMessageID))
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "orphan_receipt").Inc()
		return Result{}, nil
	}

	var out lifecycle.Outcome
	switch ev.Status {
	case "delivered":
		out, err = r.machine.Apply(ctx, m, lifecycle.TransitionDeliver, lifecycle.Detail{})
	case "failed":
		out, err = r.machine.Apply(ctx, m, lifecycle.TransitionFail, lifecycle.Detail{
			FailureKind: "provider_receipt",
			Error:       "provider reported delivery failure",
		})
	default:
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "ignored_status").Inc()
		return Result{MessageID: m.ID}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if out == lifecycle.Stale {
		metrics.WebhookEventsTotal.WithLabelValues(providerName, "stale_receipt").Inc()
		return Result{MessageID: m.ID}, nil
	}
	metrics.WebhookEventsTotal.WithLabelValues(providerName, "receipt_applied").Inc()
	return Result{Applied: true, MessageID: m.ID}, nil
}

// createInbound persists a remote-party message. Inbound messages are born
// delivered; they never enter the outbound pipeline.
func (r *Reconciler) createInbound(ctx context.Context, providerName string, ev provider.InboundEvent) (Result, error) {
	now := r.now().UTC()
	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}

	pmid := ev.ProviderMessageID
	m := model.Message{
		ID:                util.NewID(),
		Direction:         model.DirectionInbound,
		Channel:           ev.Channel,
		Status:            model.StatusDelivered,
		Provider:          providerName,
		ProviderMessageID: &pmid,
		FromAddress:       util.NormalizeAddress(ev.From),
		ToAddress:         util.NormalizeAddress(ev.To),
		Body:              ev.Body,
		Attachments:       model.Attachments(ev.Attachments),
		DeliveredAt:       &at,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	conv, err := r.convs.GetOrCreate(ctx, tx, m.FromAddress, m.ToAddress, m.Channel)
	if err != nil {
		return Result{}, err
	}
	m.ConversationID = conv.ID

	if err := r.msgs.Insert(ctx, tx, m); err != nil {
		if isDuplicateKey(err) {
			// the dedup store missed (Redis outage or lapsed TTL); the
			// unique (provider, provider_message_id) key is the backstop
			metrics.WebhookEventsTotal.WithLabelValues(providerName, "duplicate").Inc()
			return Result{Duplicate: true}, nil
		}
		return Result{}, err
	}
	if err := r.convs.Touch(ctx, tx, conv.ID, at); err != nil {
		return Result{}, err
	}
	rec := model.MessageEvent{
		ID:        util.NewID(),
		MessageID: m.ID,
		EventType: model.EventReceived,
		Detail: model.EventDetail{
			"provider":            providerName,
			"provider_message_id": ev.ProviderMessageID,
			"event_id":            ev.EventID,
		},
	}
	if err := r.events.Insert(ctx, tx, rec); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	metrics.MessagesTotal.WithLabelValues(model.EventReceived.String(), m.Channel.String()).Inc()
	metrics.WebhookEventsTotal.WithLabelValues(providerName, "inbound_created").Inc()
	return Result{Applied: true, MessageID: m.ID}, nil
}

// isDuplicateKey reports whether err is a MySQL duplicate-entry violation
// (error 1062), raised when a replayed callback races past the dedup store
// into a second insert of the same provider message id.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// Package intake accepts outbound messages: validate, persist as pending,
// enqueue for dispatch. Acceptance is durable before it is visible; the
// queue entry is written only after the row and its created event commit.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrValidation wraps all request-shape rejections; callers map it to 400.
var ErrValidation = errors.New("invalid message request")

const maxBodyBytes = 64 * 1024

// Request is one outbound send request after transport decoding.
type Request struct {
	Channel     string   `json:"channel"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

type Service struct {
	db     *sqlx.DB
	msgs   repository.MessagesRepository
	events repository.EventsRepository
	convs  repository.ConversationsRepository
	q      queue.Queue
	gw     *provider.Gateway

	maxRetries int
	now        func() time.Time
}

func NewService(
	db *sqlx.DB,
	msgs repository.MessagesRepository,
	events repository.EventsRepository,
	convs repository.ConversationsRepository,
	q queue.Queue,
	gw *provider.Gateway,
	maxRetries int,
) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		db:         db,
		msgs:       msgs,
		events:     events,
		convs:      convs,
		q:          q,
		gw:         gw,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Create persists and enqueues one outbound message. On success the returned
// message is pending and its queue entry is written. A queue outage after the
// commit surfaces queue.ErrUnavailable; the row stays pending and the caller
// reports the service unavailable.
func (s *Service) Create(ctx context.Context, req Request) (*model.Message, error) {
	m, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	conv, err := s.convs.GetOrCreate(ctx, tx, m.FromAddress, m.ToAddress, m.Channel)
	if err != nil {
		return nil, err
	}
	m.ConversationID = conv.ID

	if err := s.msgs.Insert(ctx, tx, *m); err != nil {
		return nil, err
	}
	if err := s.convs.Touch(ctx, tx, conv.ID, m.CreatedAt); err != nil {
		return nil, err
	}
	ev := model.MessageEvent{
		ID:        util.NewID(),
		MessageID: m.ID,
		EventType: model.EventCreated,
		Detail:    model.EventDetail{"channel": m.Channel.String(), "provider": m.Provider},
	}
	if err := s.events.Insert(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(model.EventCreated.String(), m.Channel.String()).Inc()

	if err := s.enqueue(ctx, m); err != nil {
		logger.Log.Error("intake: enqueue failed",
			zap.String("message_id", m.ID),
			zap.String("channel", m.Channel.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}
	return m, nil
}

func (s *Service) enqueue(ctx context.Context, m *model.Message) error {
	p := queue.Payload{MessageID: m.ID, Attempt: m.Attempts, EnqueuedAt: s.now().UTC()}
	data, err := p.Encode()
	if err != nil {
		return err
	}
	entryID, err := s.q.Enqueue(ctx, queue.ForChannel(m.Channel), data)
	if err != nil {
		return err
	}

	ev := model.MessageEvent{
		ID:        util.NewID(),
		MessageID: m.ID,
		EventType: model.EventQueued,
		Detail:    model.EventDetail{"queue": queue.ForChannel(m.Channel), "entry_id": entryID},
	}
	if err := s.events.Insert(ctx, nil, ev); err != nil {
		// the entry is already durable; losing the audit row is tolerable
		logger.Log.Warn("intake: queued event insert failed",
			zap.String("message_id", m.ID), zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(model.EventQueued.String(), m.Channel.String()).Inc()
	return nil
}

func (s *Service) validate(req Request) (*model.Message, error) {
	channel, ok := model.ParseChannel(req.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrValidation, req.Channel)
	}
	if req.From == "" || req.To == "" {
		return nil, fmt.Errorf("%w: from and to are required", ErrValidation)
	}
	if req.Body == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: body or attachments required", ErrValidation)
	}
	if len(req.Body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrValidation, maxBodyBytes)
	}
	if channel == model.ChannelEmail {
		if !util.IsEmail(req.From) || !util.IsEmail(req.To) {
			return nil, fmt.Errorf("%w: email channel requires email addresses", ErrValidation)
		}
	} else {
		if util.IsEmail(req.From) || util.IsEmail(req.To) {
			return nil, fmt.Errorf("%w: %s channel requires phone numbers", ErrValidation, channel)
		}
	}
	if channel == model.ChannelSMS && len(req.Attachments) > 0 {
		return nil, fmt.Errorf("%w: sms does not carry attachments", ErrValidation)
	}

	providerName := s.gw.ProviderName(channel)
	if providerName == "" {
		return nil, fmt.Errorf("%w: no provider configured for channel %s", ErrValidation, channel)
	}

	now := s.now().UTC()
	return &model.Message{
		ID:          util.NewID(),
		Direction:   model.DirectionOutbound,
		Channel:     channel,
		Status:      model.StatusPending,
		Provider:    providerName,
		MaxRetries:  s.maxRetries,
		FromAddress: util.NormalizeAddress(req.From),
		ToAddress:   util.NormalizeAddress(req.To),
		Body:        req.Body,
		Attachments: model.Attachments(req.Attachments),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

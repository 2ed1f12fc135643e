package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/jmoiron/sqlx"
)

const messageColumns = `
	id, conversation_id, direction, channel, status, provider,
	provider_message_id, attempts, max_retries, next_attempt_at,
	from_address, to_address, body, attachments, error_message,
	created_at, sent_at, delivered_at, failed_at, updated_at
`

// TransitionUpdate describes one conditional status change. The UPDATE is
// keyed on ExpectedStatus: zero rows affected means another writer moved the
// message first, and the caller treats the transition as stale.
type TransitionUpdate struct {
	MessageID      string
	ExpectedStatus model.MessageStatus
	NewStatus      model.MessageStatus

	IncrementAttempts bool
	ProviderMessageID *string
	NextAttemptAt     *time.Time
	ClearNextAttempt  bool
	ErrorMessage      *string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	FailedAt          *time.Time
}

// MessagesRepository defines persistence for the messages table. Rows are
// inserted once and then only ever updated through ApplyTransition.
type MessagesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, m model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	GetByProviderMessageID(ctx context.Context, providerName, providerMessageID string) (*model.Message, error)
	ApplyTransition(ctx context.Context, tx *sqlx.Tx, upd TransitionUpdate) (bool, error)
	SelectDueRetries(ctx context.Context, now time.Time, limit int) ([]model.Message, error)
	SelectStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error)
}

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

func (r *MessagesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *MessagesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	const q = `
		INSERT INTO messages
		    (id, conversation_id, direction, channel, status, provider,
		     provider_message_id, attempts, max_retries, next_attempt_at,
		     from_address, to_address, body, attachments, error_message,
		     created_at, sent_at, delivered_at, failed_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6), ?, ?, ?, NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.ConversationID, m.Direction.String(), m.Channel.String(),
			m.Status.String(), m.Provider, m.ProviderMessageID, m.Attempts,
			m.MaxRetries, m.NextAttemptAt, m.FromAddress, m.ToAddress,
			m.Body, m.Attachments, m.ErrorMessage,
			m.SentAt, m.DeliveredAt, m.FailedAt,
		)
		return err
	})
}

func (r *MessagesRepositoryImpl) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessagesRepositoryImpl) GetByProviderMessageID(ctx context.Context, providerName, providerMessageID string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE provider = ? AND provider_message_id = ? LIMIT 1`,
		providerName, providerMessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyTransition performs the optimistic-concurrency UPDATE. Returns false
// when the row was not in ExpectedStatus anymore.
func (r *MessagesRepositoryImpl) ApplyTransition(ctx context.Context, tx *sqlx.Tx, upd TransitionUpdate) (bool, error) {
	sets := []string{"status = ?", "updated_at = NOW(6)"}
	args := []any{upd.NewStatus.String()}

	if upd.IncrementAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}
	if upd.ProviderMessageID != nil {
		sets = append(sets, "provider_message_id = ?")
		args = append(args, *upd.ProviderMessageID)
	}
	if upd.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, *upd.NextAttemptAt)
	} else if upd.ClearNextAttempt {
		sets = append(sets, "next_attempt_at = NULL")
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.SentAt != nil {
		sets = append(sets, "sent_at = ?")
		args = append(args, *upd.SentAt)
	}
	if upd.DeliveredAt != nil {
		sets = append(sets, "delivered_at = ?")
		args = append(args, *upd.DeliveredAt)
	}
	if upd.FailedAt != nil {
		sets = append(sets, "failed_at = ?")
		args = append(args, *upd.FailedAt)
	}

	q := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	args = append(args, upd.MessageID, upd.ExpectedStatus.String())

	var applied bool
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

func (r *MessagesRepositoryImpl) SelectDueRetries(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+`
		   FROM messages
		  WHERE status = ? AND next_attempt_at <= ?
		  ORDER BY next_attempt_at ASC
		  LIMIT ?`,
		model.StatusRetry.String(), now, limit)
	return rows, err
}

// SelectStaleSending finds messages stuck in sending past the staleness
// threshold (worker crashed mid-send); the scanner flips them back to retry.
func (r *MessagesRepositoryImpl) SelectStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+`
		   FROM messages
		  WHERE status = ? AND updated_at < ?
		  ORDER BY updated_at ASC
		  LIMIT ?`,
		model.StatusSending.String(), olderThan, limit)
	return rows, err
}

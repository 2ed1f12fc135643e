package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/util"
	"github.com/jmoiron/sqlx"
)

// ConversationsRepository resolves the thread a message belongs to. The core
// only needs a stable conversation id per (participant pair, channel).
type ConversationsRepository interface {
	GetOrCreate(ctx context.Context, tx *sqlx.Tx, addrA, addrB string, channel model.Channel) (*model.Conversation, error)
	Touch(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
}

type ConversationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewConversationsRepository(db *sqlx.DB) *ConversationsRepositoryImpl {
	return &ConversationsRepositoryImpl{db: db}
}

var _ ConversationsRepository = (*ConversationsRepositoryImpl)(nil)

const conversationColumns = `
	id, participant_a, participant_b, channel, last_message_at,
	message_count, created_at, updated_at
`

func (r *ConversationsRepositoryImpl) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate finds the conversation for the ordered participant pair or
// inserts a new one. A duplicate-key race with a concurrent creator is
// resolved by re-selecting.
func (r *ConversationsRepositoryImpl) GetOrCreate(ctx context.Context, tx *sqlx.Tx, addrA, addrB string, channel model.Channel) (*model.Conversation, error) {
	a, b := model.ParticipantPair(addrA, addrB)

	var runner sqlx.ExtContext = r.db
	if tx != nil {
		runner = tx
	}

	get := func() (*model.Conversation, error) {
		var c model.Conversation
		err := sqlx.GetContext(ctx, runner, &c,
			`SELECT `+conversationColumns+`
			   FROM conversations
			  WHERE participant_a = ? AND participant_b = ? AND channel = ?
			  LIMIT 1`, a, b, channel.String())
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}

	if c, err := get(); err != nil || c != nil {
		return c, err
	}

	c := model.Conversation{
		ID:           util.NewID(),
		ParticipantA: a,
		ParticipantB: b,
		Channel:      channel,
	}
	_, err := runner.ExecContext(ctx, `
		INSERT INTO conversations
		    (id, participant_a, participant_b, channel, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, NOW(6), NOW(6))
	`, c.ID, c.ParticipantA, c.ParticipantB, c.Channel.String())
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return get()
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConversationsRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	const q = `
		UPDATE conversations
		   SET last_message_at = ?, message_count = message_count + 1, updated_at = NOW(6)
		 WHERE id = ?
	`
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, at, id)
		return err
	}
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

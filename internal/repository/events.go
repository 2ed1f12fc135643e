package repository

import (
	"context"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventsRepository persists the append-only message_events table.
type EventsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.MessageEvent) error
	ListByMessage(ctx context.Context, messageID string) ([]model.MessageEvent, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.MessageEvent) error {
	const q = `
		INSERT INTO message_events (id, message_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?, NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, ev.ID, ev.MessageID, ev.EventType.String(), ev.Detail)
		return err
	})
}

func (r *EventsRepositoryImpl) ListByMessage(ctx context.Context, messageID string) ([]model.MessageEvent, error) {
	var rows []model.MessageEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, event_type, detail, created_at
		  FROM message_events
		 WHERE message_id = ?
		 ORDER BY created_at ASC, id ASC
	`, messageID)
	return rows, err
}

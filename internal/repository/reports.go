package repository

import (
	"context"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// ReportsRepository lists messages from the ClickHouse read-side replica
// (fed by an external pipeline; this service only queries it).
type ReportsRepository interface {
	ListByConversation(ctx context.Context, conversationID string, status model.MessageStatus, limit, offset int) ([]ReportMessage, error)
}

// ReportMessage is the flattened reporting row; the replica does not carry
// the full lifecycle columns.
type ReportMessage struct {
	ID          string `db:"id" json:"id"`
	Direction   string `db:"direction" json:"direction"`
	Channel     string `db:"channel" json:"channel"`
	Status      string `db:"status" json:"status"`
	Provider    string `db:"provider" json:"provider"`
	FromAddress string `db:"from_address" json:"from_address"`
	ToAddress   string `db:"to_address" json:"to_address"`
	Body        string `db:"body" json:"body"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

type reportsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewReportsRepository(ch *sqlx.DB) ReportsRepository {
	return &reportsRepository{ch: ch}
}

func (r *reportsRepository) ListByConversation(ctx context.Context, conversationID string, status model.MessageStatus, limit, offset int) ([]ReportMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, direction, channel, status, provider, from_address, to_address, body, created_at
		FROM msggw.messages_latest
		WHERE conversation_id = ?
	`
	args := []any{conversationID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []ReportMessage
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

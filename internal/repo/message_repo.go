package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
)

// MessageRepo is the source of truth for conversation history. Messages are
// append-only; created_at is stored timezone-aware and round-trips exactly.
type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Append(ctx context.Context, msg *model.Message) error {
	if !msg.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", apperrors.ErrInvalid, msg.Sender)
	}
	const query = `
		INSERT INTO messages (id, conversation_id, sender, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`
	return r.db.QueryRowxContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Scan(&msg.Seq)
}

// ListRecent returns the last `limit` messages in chronological order,
// created_at ascending with insertion sequence as tie-break.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	type row struct {
		Seq            int64     `db:"seq"`
		ID             string    `db:"id"`
		ConversationID string    `db:"conversation_id"`
		Sender         string    `db:"sender"`
		Content        string    `db:"content"`
		CreatedAt      time.Time `db:"created_at"`
	}
	var rows []row
	const query = `
		SELECT seq, id, conversation_id, sender, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, limit); err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		item := rows[i]
		sender := model.Sender(item.Sender)
		if !sender.Valid() {
			return nil, fmt.Errorf("%w: message %s has sender %q", apperrors.ErrMalformedRecord, item.ID, item.Sender)
		}
		messages = append(messages, model.Message{
			ID:             item.ID,
			ConversationID: item.ConversationID,
			Sender:         sender,
			Content:        item.Content,
			CreatedAt:      item.CreatedAt,
			Seq:            item.Seq,
		})
	}
	return messages, nil
}

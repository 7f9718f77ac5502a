package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
)

type ConversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreate returns the conversation for (tenant, session), creating it on
// the first user message. Safe under concurrent first-writers: the unique
// index on (tenant_id, session_id) collapses the race.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	const insert = `
		INSERT INTO conversations (id, tenant_id, session_id, status, ctime)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, session_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, uuid.NewString(), tenantID, sessionID, model.ConversationStatusActive); err != nil {
		return nil, err
	}
	var conv model.Conversation
	const query = `SELECT * FROM conversations WHERE tenant_id = $1 AND session_id = $2`
	if err := r.db.GetContext(ctx, &conv, query, tenantID, sessionID); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Get loads by ID and verifies tenant ownership. A mismatch is a tenant
// isolation violation, not a plain not-found.
func (r *ConversationRepo) Get(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	var conv model.Conversation
	const query = `SELECT * FROM conversations WHERE id = $1`
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if conv.TenantID != tenantID {
		return nil, apperrors.ErrTenantIsolation
	}
	return &conv, nil
}

// End marks a conversation ended. Conversations are never physically deleted.
func (r *ConversationRepo) End(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE conversations SET status = $1 WHERE id = $2 AND tenant_id = $3`
	res, err := r.db.ExecContext(ctx, query, model.ConversationStatusEnded, id, tenantID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

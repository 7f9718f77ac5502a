package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatforge/ragpipe/internal/model"
)

// ResponseCacheRepo is the shared (cross-instance) layer of the response
// cache. Each entry is tagged with the document IDs that grounded it so
// invalidate-by-document works without scanning payloads.
type ResponseCacheRepo struct {
	db *sqlx.DB
}

func NewResponseCacheRepo(db *sqlx.DB) *ResponseCacheRepo {
	return &ResponseCacheRepo{db: db}
}

func (r *ResponseCacheRepo) Get(ctx context.Context, key string) (*model.CachedAnswer, bool, error) {
	var payload []byte
	const query = `SELECT payload FROM response_cache WHERE cache_key = $1 AND expires_at > now()`
	if err := r.db.GetContext(ctx, &payload, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var answer model.CachedAnswer
	if err := json.Unmarshal(payload, &answer); err != nil {
		return nil, false, err
	}
	return &answer, true, nil
}

func (r *ResponseCacheRepo) Save(ctx context.Context, key, tenantID string, answer *model.CachedAnswer, ttl time.Duration) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO response_cache (cache_key, tenant_id, payload, stored_at, expires_at)
		VALUES ($1, $2, $3, now(), now() + $4 * INTERVAL '1 second')
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			stored_at = EXCLUDED.stored_at,
			expires_at = EXCLUDED.expires_at`
	if _, err := tx.ExecContext(ctx, upsert, key, tenantID, payload, int64(ttl.Seconds())); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM response_cache_sources WHERE cache_key = $1`, key); err != nil {
		return err
	}
	const tag = `INSERT INTO response_cache_sources (cache_key, document_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, docID := range answer.DocumentIDs {
		if _, err := tx.ExecContext(ctx, tag, key, docID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByDocument drops every cached answer whose source set references the
// document.
func (r *ResponseCacheRepo) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	const query = `
		DELETE FROM response_cache
		WHERE cache_key IN (SELECT cache_key FROM response_cache_sources WHERE document_id = $1)`
	res, err := r.db.ExecContext(ctx, query, documentID)
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM response_cache_sources WHERE document_id = $1`, documentID); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ResponseCacheRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	const orphans = `
		DELETE FROM response_cache_sources
		WHERE cache_key NOT IN (SELECT cache_key FROM response_cache)`
	if _, err := r.db.ExecContext(ctx, orphans); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

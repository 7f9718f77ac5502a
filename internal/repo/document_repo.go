package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
)

// DocumentRepo owns document status rows. Status transitions are guarded at
// the SQL level so two racing pipeline workers cannot both claim a document.
type DocumentRepo struct {
	db *sqlx.DB
}

func NewDocumentRepo(db *sqlx.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	const query = `
		INSERT INTO documents (id, tenant_id, title, storage_key, status, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, now(), now())`
	_, err := r.db.ExecContext(ctx, query, doc.ID, doc.TenantID, doc.Title, doc.StorageKey, model.DocumentStatusPending)
	return err
}

func (r *DocumentRepo) Get(ctx context.Context, tenantID, id string) (*model.Document, error) {
	var doc model.Document
	const query = `SELECT * FROM documents WHERE id = $1`
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if doc.TenantID != tenantID {
		return nil, apperrors.ErrTenantIsolation
	}
	return &doc, nil
}

// MarkProcessing performs the pending -> processing transition. Returns
// ErrConflict if the document is not pending.
func (r *DocumentRepo) MarkProcessing(ctx context.Context, tenantID, id string) error {
	const query = `
		UPDATE documents
		SET status = $1, error_message = '', started_at = now(), finished_at = NULL, mtime = now()
		WHERE id = $2 AND tenant_id = $3 AND status = $4`
	return r.transition(ctx, query, model.DocumentStatusProcessing, id, tenantID, model.DocumentStatusPending)
}

func (r *DocumentRepo) MarkCompleted(ctx context.Context, tenantID, id string, chunkCount int) error {
	const query = `
		UPDATE documents
		SET status = $1, chunk_count = $5, finished_at = now(), mtime = now()
		WHERE id = $2 AND tenant_id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, model.DocumentStatusCompleted, id, tenantID, model.DocumentStatusProcessing, chunkCount)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, tenantID, id, errorMessage string) error {
	const query = `
		UPDATE documents
		SET status = $1, error_message = $5, chunk_count = 0, finished_at = now(), mtime = now()
		WHERE id = $2 AND tenant_id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, model.DocumentStatusFailed, id, tenantID, model.DocumentStatusProcessing, errorMessage)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// ResetPending rewinds a terminal document for reprocessing.
func (r *DocumentRepo) ResetPending(ctx context.Context, tenantID, id string) error {
	const query = `
		UPDATE documents
		SET status = $1, chunk_count = 0, error_message = '', started_at = NULL, finished_at = NULL, mtime = now()
		WHERE id = $2 AND tenant_id = $3 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query,
		model.DocumentStatusPending, id, tenantID,
		model.DocumentStatusCompleted, model.DocumentStatusFailed)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (r *DocumentRepo) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// ListStuck returns documents left in processing longer than the cutoff.
// Used by the ingest recovery job after a crash or restart.
func (r *DocumentRepo) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.Document, error) {
	var docs []model.Document
	const query = `
		SELECT * FROM documents
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3`
	cutoff := time.Now().Add(-olderThan)
	if err := r.db.SelectContext(ctx, &docs, query, model.DocumentStatusProcessing, cutoff, limit); err != nil {
		return nil, err
	}
	return docs, nil
}

// DocumentStatus satisfies vectorstore.StatusResolver for store
// implementations that cannot join the documents table themselves.
func (r *DocumentRepo) DocumentStatus(ctx context.Context, tenantID, documentID string) (model.DocumentStatus, error) {
	doc, err := r.Get(ctx, tenantID, documentID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

func (r *DocumentRepo) transition(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no matching row in expected state", apperrors.ErrConflict)
	}
	return nil
}

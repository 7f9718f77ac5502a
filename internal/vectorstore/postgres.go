package vectorstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// PostgresStore keeps one pgvector table per tenant. The table name is derived
// from the tenant ID, and each collection carries the embedding model/version
// tag so a model swap is rejected instead of mixing dimensions.
type PostgresStore struct {
	db        *sqlx.DB
	modelName string
	dims      int
	group     singleflight.Group
}

func NewPostgresStore(db *sqlx.DB, modelName string, dims int) (*PostgresStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("vector dims must be positive")
	}
	if modelName == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	return &PostgresStore{db: db, modelName: modelName, dims: dims}, nil
}

func collectionTable(tenantID string) string {
	hash := sha256.Sum256([]byte(tenantID))
	return fmt.Sprintf("rag_chunks_%x", hash[:12])
}

// ensureCollection creates the tenant collection on first write. Concurrent
// first-writers collapse into a single creation via singleflight; the DDL is
// idempotent for racing service instances.
func (s *PostgresStore) ensureCollection(ctx context.Context, tenantID string) (string, error) {
	table := collectionTable(tenantID)
	_, err, _ := s.group.Do(tenantID, func() (interface{}, error) {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				chunk_id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				chunk_index INT NOT NULL,
				source_title TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL
			)`, table, s.dims)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_document ON %s (document_id)`, table, table)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return nil, fmt.Errorf("create collection index: %w", err)
		}
		const register = `
			INSERT INTO rag_collections (tenant_id, table_name, model_name, dims)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, register, tenantID, table, s.modelName, s.dims); err != nil {
			return nil, fmt.Errorf("register collection: %w", err)
		}
		return nil, s.verifyCollection(ctx, tenantID)
	})
	if err != nil {
		return "", err
	}
	return table, nil
}

func (s *PostgresStore) verifyCollection(ctx context.Context, tenantID string) error {
	var row struct {
		ModelName string `db:"model_name"`
		Dims      int    `db:"dims"`
	}
	const query = `SELECT model_name, dims FROM rag_collections WHERE tenant_id = $1`
	if err := s.db.GetContext(ctx, &row, query, tenantID); err != nil {
		return fmt.Errorf("load collection tag: %w", err)
	}
	if row.ModelName != s.modelName || row.Dims != s.dims {
		return fmt.Errorf("%w: collection built with %s/%d, store configured for %s/%d",
			apperrors.ErrDimensionMismatch, row.ModelName, row.Dims, s.modelName, s.dims)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, tenantID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if len(entry.Vector) != s.dims {
			return fmt.Errorf("%w: entry %s has %d dims, collection expects %d",
				apperrors.ErrDimensionMismatch, entry.ID, len(entry.Vector), s.dims)
		}
	}
	table, err := s.ensureCollection(ctx, tenantID)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, document_id, chunk_index, source_title, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			source_title = EXCLUDED.source_title,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`, table)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query,
			entry.ID,
			entry.Meta.DocumentID,
			entry.Meta.ChunkIndex,
			entry.Meta.SourceTitle,
			entry.Text,
			pgvector.NewVector(entry.Vector),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Search(ctx context.Context, tenantID string, vector []float32, k int, threshold float32, filter SearchFilter) ([]Match, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection expects %d",
			apperrors.ErrDimensionMismatch, len(vector), s.dims)
	}
	table, ok, err := s.lookupCollection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	args := []interface{}{pgvector.NewVector(vector)}
	statusClause := ""
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		args = append(args, tenantID, pq.Array(statuses))
		statusClause = `WHERE EXISTS (
			SELECT 1 FROM documents d
			WHERE d.id = t.document_id AND d.tenant_id = $2 AND d.status = ANY($3)
		)`
	}
	args = append(args, threshold, k)
	query := fmt.Sprintf(`
		SELECT chunk_id, document_id, chunk_index, source_title, content, score
		FROM (
			SELECT chunk_id, document_id, chunk_index, source_title, content,
			       1 - (embedding <=> $1) AS score
			FROM %s t
			%s
		) m
		WHERE m.score >= $%d
		ORDER BY m.score DESC, m.chunk_index ASC
		LIMIT $%d`, table, statusClause, len(args)-1, len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.ID, &m.Meta.DocumentID, &m.Meta.ChunkIndex, &m.Meta.SourceTitle, &m.Text, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	table, ok, err := s.lookupCollection(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, table), documentID)
	if err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logutil.GetLogger(ctx).Info("document vectors removed",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", documentID),
			zap.Int64("chunks", n),
		)
	}
	return nil
}

func (s *PostgresStore) lookupCollection(ctx context.Context, tenantID string) (string, bool, error) {
	var table string
	const query = `SELECT table_name FROM rag_collections WHERE tenant_id = $1`
	if err := s.db.GetContext(ctx, &table, query, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	if err := s.verifyCollection(ctx, tenantID); err != nil {
		return "", false, err
	}
	return table, true, nil
}

// ModelDims exposes the configured vector dimension for config validation.
func (s *PostgresStore) ModelDims() int {
	return s.dims
}

var _ Store = (*PostgresStore)(nil)

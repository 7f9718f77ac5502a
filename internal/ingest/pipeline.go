package ingest

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/embed"
	"github.com/chatforge/ragpipe/internal/filestore"
	"github.com/chatforge/ragpipe/internal/model"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

const (
	DefaultMaxConcurrent = 4
	DefaultMaxBodySize   = 8 << 20
)

// DocumentStore is the status-row surface the pipeline drives. Satisfied by
// repo.DocumentRepo.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, tenantID, id string) (*model.Document, error)
	MarkProcessing(ctx context.Context, tenantID, id string) error
	MarkCompleted(ctx context.Context, tenantID, id string, chunkCount int) error
	MarkFailed(ctx context.Context, tenantID, id, errorMessage string) error
	ResetPending(ctx context.Context, tenantID, id string) error
	Delete(ctx context.Context, tenantID, id string) error
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.Document, error)
}

// Embedder is the vector-producing surface. Satisfied by embed.Client.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// Invalidator drops cached answers grounded on a document whose content is
// changing. Satisfied by respcache.Cache.
type Invalidator interface {
	InvalidateByDocument(ctx context.Context, documentID string) error
}

type Config struct {
	MaxConcurrent int
	MaxBodySize   int64
}

// Pipeline drives a document through pending -> processing -> completed or
// failed. Processing runs in bounded background workers; a failure after
// partial indexing rolls the document's vectors back so the store never holds
// a half-indexed document.
type Pipeline struct {
	docs     DocumentStore
	files    filestore.IFileStore
	chunker  *ai.Chunker
	embedder Embedder
	vectors  vectorstore.Store
	cache    Invalidator

	sem chan struct{}
	wg  sync.WaitGroup

	maxBodySize int64
}

func New(docs DocumentStore, files filestore.IFileStore, chunker *ai.Chunker,
	embedder Embedder, vectors vectorstore.Store, cache Invalidator, cfg Config) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Pipeline{
		docs:        docs,
		files:       files,
		chunker:     chunker,
		embedder:    embedder,
		vectors:     vectors,
		cache:       cache,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		maxBodySize: cfg.MaxBodySize,
	}
}

// Upload stores the raw body and registers the document as pending. The body
// is kept so reprocessing can re-read it without a second upload.
func (p *Pipeline) Upload(ctx context.Context, tenantID, title string, body io.Reader) (*model.Document, error) {
	doc := &model.Document{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Title:    title,
	}
	doc.StorageKey = path.Join(tenantID, doc.ID)
	if err := p.files.Save(ctx, doc.StorageKey, io.LimitReader(body, p.maxBodySize)); err != nil {
		return nil, fmt.Errorf("store document body failed, err:%w", err)
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		_ = p.files.Remove(ctx, doc.StorageKey)
		return nil, err
	}
	doc.Status = model.DocumentStatusPending
	return doc, nil
}

// GetDocument returns the status row, tenant-checked.
func (p *Pipeline) GetDocument(ctx context.Context, tenantID, id string) (*model.Document, error) {
	return p.docs.Get(ctx, tenantID, id)
}

// Start claims a pending document and processes it in the background. Returns
// once the document has been claimed; ErrConflict when it is not pending.
func (p *Pipeline) Start(ctx context.Context, tenantID, id string) error {
	if err := p.docs.MarkProcessing(ctx, tenantID, id); err != nil {
		return err
	}
	bgctx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		p.process(bgctx, tenantID, id)
	}()
	return nil
}

// Reprocess rewinds a terminal document, drops its vectors and cached
// answers, and runs ingestion again from the stored body.
func (p *Pipeline) Reprocess(ctx context.Context, tenantID, id string) error {
	if _, err := p.docs.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := p.vectors.DeleteByDocument(ctx, tenantID, id); err != nil {
		return err
	}
	if err := p.cache.InvalidateByDocument(ctx, id); err != nil {
		return err
	}
	if err := p.docs.ResetPending(ctx, tenantID, id); err != nil {
		return err
	}
	return p.Start(ctx, tenantID, id)
}

// Delete removes the document everywhere: vectors, cached answers, the status
// row, and the stored body.
func (p *Pipeline) Delete(ctx context.Context, tenantID, id string) error {
	doc, err := p.docs.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := p.vectors.DeleteByDocument(ctx, tenantID, id); err != nil {
		return err
	}
	if err := p.cache.InvalidateByDocument(ctx, id); err != nil {
		return err
	}
	if err := p.docs.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	if err := p.files.Remove(ctx, doc.StorageKey); err != nil {
		logutil.GetLogger(ctx).Warn("remove document body failed",
			zap.String("storage_key", doc.StorageKey), zap.Error(err))
	}
	return nil
}

// RecoverStuck fails documents left in processing past the cutoff, rolling
// back any vectors the interrupted run wrote. Run on a schedule.
func (p *Pipeline) RecoverStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	docs, err := p.docs.ListStuck(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, doc := range docs {
		if err := p.vectors.DeleteByDocument(ctx, doc.TenantID, doc.ID); err != nil {
			logutil.GetLogger(ctx).Error("rollback of stuck document failed",
				zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		if err := p.docs.MarkFailed(ctx, doc.TenantID, doc.ID, "processing interrupted"); err != nil {
			logutil.GetLogger(ctx).Error("mark stuck document failed",
				zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Wait blocks until all in-flight processing finishes. Used on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, tenantID, id string) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", tenantID),
		zap.String("document_id", id),
	)
	start := time.Now()

	chunkCount, err := p.index(ctx, tenantID, id)
	if err != nil {
		logger.Error("document processing failed", zap.Error(err))
		p.rollback(ctx, tenantID, id, err)
		return
	}
	if err := p.docs.MarkCompleted(ctx, tenantID, id, chunkCount); err != nil {
		logger.Error("mark completed failed", zap.Error(err))
		return
	}
	logger.Info("document processed",
		zap.Int("chunks", chunkCount),
		zap.Duration("cost", time.Since(start)),
	)
}

func (p *Pipeline) index(ctx context.Context, tenantID, id string) (int, error) {
	doc, err := p.docs.Get(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}
	body, err := p.files.Open(ctx, doc.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("open document body failed, err:%w", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, p.maxBodySize))
	if err != nil {
		return 0, fmt.Errorf("read document body failed, err:%w", err)
	}

	chunks := p.chunker.Chunk(string(raw))
	if len(chunks) == 0 {
		return 0, nil
	}
	vectors, err := p.embedder.EmbedTexts(ctx, chunks, embed.TaskTypeDocument)
	if err != nil {
		return 0, err
	}

	entries := make([]vectorstore.Entry, 0, len(chunks))
	for i, chunk := range chunks {
		entries = append(entries, vectorstore.Entry{
			ID:     fmt.Sprintf("%s:%d", id, i),
			Vector: vectors[i],
			Text:   chunk,
			Meta: vectorstore.Metadata{
				DocumentID:  id,
				ChunkIndex:  i,
				SourceTitle: doc.Title,
			},
		})
	}
	if err := p.vectors.Upsert(ctx, tenantID, entries); err != nil {
		return 0, fmt.Errorf("upsert vectors failed, err:%w", err)
	}
	return len(entries), nil
}

func (p *Pipeline) rollback(ctx context.Context, tenantID, id string, cause error) {
	if err := p.vectors.DeleteByDocument(ctx, tenantID, id); err != nil {
		logutil.GetLogger(ctx).Error("rollback vectors failed",
			zap.String("document_id", id), zap.Error(err))
	}
	if err := p.docs.MarkFailed(ctx, tenantID, id, cause.Error()); err != nil {
		logutil.GetLogger(ctx).Error("mark failed failed",
			zap.String("document_id", id), zap.Error(err))
	}
}

package ingest_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/filestore"
	"github.com/chatforge/ragpipe/internal/ingest"
	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]*model.Document)}
}

func (f *fakeDocs) Create(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *doc
	clone.Status = model.DocumentStatusPending
	f.docs[doc.ID] = &clone
	return nil
}

func (f *fakeDocs) Get(ctx context.Context, tenantID, id string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if doc.TenantID != tenantID {
		return nil, apperrors.ErrTenantIsolation
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocs) transition(id string, from []model.DocumentStatus, to model.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, status := range from {
		if doc.Status == status {
			doc.Status = to
			return nil
		}
	}
	return apperrors.ErrConflict
}

func (f *fakeDocs) MarkProcessing(ctx context.Context, tenantID, id string) error {
	return f.transition(id, []model.DocumentStatus{model.DocumentStatusPending}, model.DocumentStatusProcessing)
}

func (f *fakeDocs) MarkCompleted(ctx context.Context, tenantID, id string, chunkCount int) error {
	if err := f.transition(id, []model.DocumentStatus{model.DocumentStatusProcessing}, model.DocumentStatusCompleted); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].ChunkCount = chunkCount
	return nil
}

func (f *fakeDocs) MarkFailed(ctx context.Context, tenantID, id, errorMessage string) error {
	if err := f.transition(id, []model.DocumentStatus{model.DocumentStatusProcessing}, model.DocumentStatusFailed); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].ErrorMessage = errorMessage
	return nil
}

func (f *fakeDocs) ResetPending(ctx context.Context, tenantID, id string) error {
	return f.transition(id,
		[]model.DocumentStatus{model.DocumentStatusCompleted, model.DocumentStatusFailed},
		model.DocumentStatusPending)
}

func (f *fakeDocs) Delete(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stuck []model.Document
	for _, doc := range f.docs {
		if doc.Status == model.DocumentStatusProcessing {
			stuck = append(stuck, *doc)
		}
	}
	return stuck, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, apperrors.ErrEmbeddingUnavailable
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1}
	}
	return vectors, nil
}

type fakeInvalidator struct {
	mu   sync.Mutex
	docs []string
}

func (f *fakeInvalidator) InvalidateByDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, documentID)
	return nil
}

type fixture struct {
	docs        *fakeDocs
	files       filestore.IFileStore
	embedder    *fakeEmbedder
	vectors     *vectorstore.MemoryStore
	invalidator *fakeInvalidator
	pipeline    *ingest.Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		docs:        newFakeDocs(),
		files:       filestore.NewMemory(),
		embedder:    &fakeEmbedder{},
		vectors:     vectorstore.NewMemoryStore(2, nil),
		invalidator: &fakeInvalidator{},
	}
	f.pipeline = ingest.New(f.docs, f.files, ai.NewChunker(10, 0),
		f.embedder, f.vectors, f.invalidator, ingest.Config{MaxConcurrent: 2})
	return f
}

const testBody = "one two three four five six. seven eight nine ten eleven twelve."

func TestPipelineUploadAndProcess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "my doc", strings.NewReader(testBody))
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, doc.Status)

	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	got, err := f.docs.Get(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, got.Status)
	require.Equal(t, 2, got.ChunkCount)

	matches, err := f.vectors.Search(ctx, "t1", []float32{28, 1}, 10, 0, vectorstore.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, doc.ID, matches[0].Meta.DocumentID)
	require.Equal(t, "my doc", matches[0].Meta.SourceTitle)
}

func TestPipelineStartRequiresPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	// Second claim loses the pending -> processing race.
	err = f.pipeline.Start(ctx, "t1", doc.ID)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	f.pipeline.Wait()
}

func TestPipelineRollbackOnEmbeddingFailure(t *testing.T) {
	f := newFixture()
	f.embedder.fail = true
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	got, err := f.docs.Get(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusFailed, got.Status)
	require.NotEmpty(t, got.ErrorMessage)

	matches, err := f.vectors.Search(ctx, "t1", []float32{28, 1}, 10, 0, vectorstore.SearchFilter{})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestPipelineReprocess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	require.NoError(t, f.pipeline.Reprocess(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	got, err := f.docs.Get(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, got.Status)
	require.Contains(t, f.invalidator.docs, doc.ID)

	matches, err := f.vectors.Search(ctx, "t1", []float32{28, 1}, 10, 0, vectorstore.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestPipelineDeleteRemovesEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	require.NoError(t, f.pipeline.Delete(ctx, "t1", doc.ID))

	_, err = f.docs.Get(ctx, "t1", doc.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Contains(t, f.invalidator.docs, doc.ID)

	matches, err := f.vectors.Search(ctx, "t1", []float32{28, 1}, 10, 0, vectorstore.SearchFilter{})
	require.NoError(t, err)
	require.Empty(t, matches)

	_, err = f.files.Open(ctx, doc.StorageKey)
	require.Error(t, err)
}

func TestPipelineTenantIsolationOnDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)

	err = f.pipeline.Delete(ctx, "t2", doc.ID)
	require.ErrorIs(t, err, apperrors.ErrTenantIsolation)
}

func TestPipelineRecoverStuck(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "doc", strings.NewReader(testBody))
	require.NoError(t, err)
	// Simulate an interrupted run: claimed but never finished.
	require.NoError(t, f.docs.MarkProcessing(ctx, "t1", doc.ID))

	recovered, err := f.pipeline.RecoverStuck(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	got, err := f.docs.Get(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusFailed, got.Status)
	require.Equal(t, "processing interrupted", got.ErrorMessage)
}

func TestPipelineEmptyDocumentCompletesWithZeroChunks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.pipeline.Upload(ctx, "t1", "empty", strings.NewReader("   "))
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Start(ctx, "t1", doc.ID))
	f.pipeline.Wait()

	got, err := f.docs.Get(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, got.Status)
	require.Equal(t, 0, got.ChunkCount)
	require.Equal(t, 0, f.embedder.calls)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

type fakeConvs struct {
	mu          sync.Mutex
	sawDeadline bool
}

func (f *fakeConvs) GetOrCreate(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	f.mu.Lock()
	if _, ok := ctx.Deadline(); ok {
		f.sawDeadline = true
	}
	f.mu.Unlock()
	return &model.Conversation{ID: tenantID + ":" + sessionID, TenantID: tenantID, SessionID: sessionID}, nil
}

// fakeContexts serves a frozen window so repeated queries share a cache key,
// while still recording appends.
type fakeContexts struct {
	mu       sync.Mutex
	appended []model.Message
	seq      int
}

func (f *fakeContexts) Context(ctx context.Context, conversationID string) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeContexts) Append(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg := model.Message{
		ID:             fmt.Sprintf("m-%d", f.seq),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	f.appended = append(f.appended, msg)
	return &msg, nil
}

type fakeQueryEmbedder struct {
	fail bool
}

func (f *fakeQueryEmbedder) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if f.fail {
		return nil, apperrors.ErrEmbeddingUnavailable
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	fail     bool
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("model endpoint exploded")
	}
	return f.response, nil
}

type fakeRespCache struct {
	mu      sync.Mutex
	entries map[string]*model.CachedAnswer
	sets    int
	getErr  error
}

func newFakeRespCache() *fakeRespCache {
	return &fakeRespCache{entries: make(map[string]*model.CachedAnswer)}
}

func (f *fakeRespCache) Get(ctx context.Context, key string) (*model.CachedAnswer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	answer, ok := f.entries[key]
	return answer, ok, nil
}

func (f *fakeRespCache) Set(ctx context.Context, key, tenantID string, answer *model.CachedAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.entries[key] = answer
	return nil
}

type fakeLimiter struct {
	allowed    bool
	retryAfter time.Duration
}

func (f *fakeLimiter) Allow(ctx context.Context, tenantID, endpointClass, identifier string) limiter.Decision {
	return limiter.Decision{Allowed: f.allowed, RetryAfter: f.retryAfter}
}

type ragFixture struct {
	convs     *fakeConvs
	contexts  *fakeContexts
	embedder  *fakeQueryEmbedder
	vectors   *vectorstore.MemoryStore
	generator *fakeGenerator
	cache     *fakeRespCache
	limits    *fakeLimiter
	svc       *RagService
}

type allCompleted struct{}

func (allCompleted) DocumentStatus(ctx context.Context, tenantID, documentID string) (model.DocumentStatus, error) {
	return model.DocumentStatusCompleted, nil
}

func newRagFixture() *ragFixture {
	f := &ragFixture{
		convs:     &fakeConvs{},
		contexts:  &fakeContexts{},
		embedder:  &fakeQueryEmbedder{},
		vectors:   vectorstore.NewMemoryStore(2, allCompleted{}),
		generator: &fakeGenerator{response: "generated answer"},
		cache:     newFakeRespCache(),
		limits:    &fakeLimiter{allowed: true},
	}
	f.svc = NewRagService(f.convs, f.contexts, f.embedder, f.vectors,
		f.generator, ai.RetryPolicy{MaxAttempts: 1}, f.cache, f.limits,
		RagConfig{TopK: 3, Threshold: 0.3})
	return f
}

func seedChunks(t *testing.T, f *ragFixture) {
	t.Helper()
	require.NoError(t, f.vectors.Upsert(context.Background(), "t1", []vectorstore.Entry{
		{ID: "d1:0", Vector: []float32{1, 0}, Text: "exact match chunk",
			Meta: vectorstore.Metadata{DocumentID: "d1", ChunkIndex: 0, SourceTitle: "doc one"}},
		{ID: "d1:1", Vector: []float32{0.9, 0.2}, Text: "close chunk",
			Meta: vectorstore.Metadata{DocumentID: "d1", ChunkIndex: 1, SourceTitle: "doc one"}},
		{ID: "d2:0", Vector: []float32{0, 1}, Text: "unrelated chunk",
			Meta: vectorstore.Metadata{DocumentID: "d2", ChunkIndex: 0, SourceTitle: "doc two"}},
	}))
}

func TestAnswerHappyPath(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)

	answer, err := f.svc.Answer(context.Background(), "t1", "s1", "what do the docs say")
	require.NoError(t, err)
	require.Equal(t, "generated answer", answer.Text)
	require.False(t, answer.Cached)
	require.False(t, answer.Degraded)
	require.Len(t, answer.Sources, 2)
	require.Equal(t, "d1:0", answer.Sources[0].ChunkID)
	require.Equal(t, answer.Sources[0].Score, answer.Confidence)

	// The exchange is recorded: user query, then the answer.
	require.Len(t, f.contexts.appended, 2)
	require.Equal(t, model.SenderUser, f.contexts.appended[0].Sender)
	require.Equal(t, "what do the docs say", f.contexts.appended[0].Content)
	require.Equal(t, model.SenderAI, f.contexts.appended[1].Sender)
	require.Equal(t, "generated answer", f.contexts.appended[1].Content)

	// And cached with its grounding document set.
	require.Equal(t, 1, f.cache.sets)
	for _, cached := range f.cache.entries {
		require.Equal(t, []string{"d1"}, cached.DocumentIDs)
	}
}

func TestAnswerServesFromCache(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)
	ctx := context.Background()

	first, err := f.svc.Answer(ctx, "t1", "s1", "repeat query")
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := f.svc.Answer(ctx, "t1", "s1", "repeat query")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, first.Confidence, second.Confidence)

	// Generation ran exactly once; the hit still records the exchange.
	require.Equal(t, 1, f.generator.calls)
	require.Len(t, f.contexts.appended, 4)
}

func TestAnswerRejectedWhenRateLimited(t *testing.T) {
	f := newRagFixture()
	f.limits.allowed = false
	f.limits.retryAfter = 7 * time.Second

	_, err := f.svc.Answer(context.Background(), "t1", "s1", "query")
	require.ErrorIs(t, err, apperrors.ErrTooMany)
	var rateErr *apperrors.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, 7*time.Second, rateErr.RetryAfter)
	require.Equal(t, 0, f.generator.calls)
}

func TestAnswerEmbeddingFailureIsDegradedError(t *testing.T) {
	f := newRagFixture()
	f.embedder.fail = true

	_, err := f.svc.Answer(context.Background(), "t1", "s1", "query")
	require.ErrorIs(t, err, apperrors.ErrServiceDegraded)
	require.Equal(t, 0, f.generator.calls)
	require.Empty(t, f.contexts.appended)
}

func TestAnswerGenerationFailureFallsBack(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)
	f.generator.fail = true

	answer, err := f.svc.Answer(context.Background(), "t1", "s1", "query")
	require.NoError(t, err)
	require.True(t, answer.Degraded)
	require.Equal(t, fallbackText, answer.Text)
	require.Empty(t, answer.Sources)

	// The exchange is still recorded, but nothing is cached.
	require.Len(t, f.contexts.appended, 2)
	require.Equal(t, fallbackText, f.contexts.appended[1].Content)
	require.Equal(t, 0, f.cache.sets)
}

func TestAnswerWithoutRetrievedContext(t *testing.T) {
	f := newRagFixture()

	answer, err := f.svc.Answer(context.Background(), "t1", "s1", "query with no docs")
	require.NoError(t, err)
	require.Empty(t, answer.Sources)
	require.InDelta(t, ungroundedConfidence, answer.Confidence, 0.001)
}

func TestAnswerSurvivesCacheLookupFailure(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)
	f.cache.getErr = errors.New("cache backend down")

	answer, err := f.svc.Answer(context.Background(), "t1", "s1", "query")
	require.NoError(t, err)
	require.Equal(t, "generated answer", answer.Text)
	require.False(t, answer.Cached)
	require.Equal(t, 1, f.generator.calls)
}

func TestAnswerBudgetCoversConversationLoad(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)

	_, err := f.svc.Answer(context.Background(), "t1", "s1", "query")
	require.NoError(t, err)
	require.True(t, f.convs.sawDeadline)
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	f := newRagFixture()
	_, err := f.svc.Answer(context.Background(), "t1", "s1", "   ")
	require.ErrorIs(t, err, apperrors.ErrInvalid)
}

func TestSearchReturnsRankedMatches(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)

	matches, err := f.svc.Search(context.Background(), "t1", "query", 2, 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "d1:0", matches[0].ID)
	require.Equal(t, "d1:1", matches[1].ID)
}

func TestSearchIsTenantScoped(t *testing.T) {
	f := newRagFixture()
	seedChunks(t, f)

	matches, err := f.svc.Search(context.Background(), "t2", "query", 5, 0.1)
	require.NoError(t, err)
	require.Empty(t, matches)
}

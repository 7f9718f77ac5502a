package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/embed"
	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/respcache"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.3

	// Aggregate budget for one answer cycle, cache hits excluded.
	DefaultAnswerTimeout = 5 * time.Second

	// Confidence of answers generated without any retrieved grounding.
	ungroundedConfidence = 0.25

	fallbackText = "I'm temporarily unable to generate an answer. Please try again shortly."

	classChat   = "chat"
	classSearch = "search"
)

// Conversations resolves session IDs to conversation rows. Satisfied by
// repo.ConversationRepo.
type Conversations interface {
	GetOrCreate(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error)
}

// ContextStore is the recent-message window. Satisfied by convo.Store.
type ContextStore interface {
	Context(ctx context.Context, conversationID string) ([]model.Message, error)
	Append(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error)
}

// Embedder produces query vectors. Satisfied by embed.Client.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// ResponseCache is the two-layer answer cache. Satisfied by respcache.Cache.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*model.CachedAnswer, bool, error)
	Set(ctx context.Context, key, tenantID string, answer *model.CachedAnswer) error
}

// RateLimiter gates requests per tenant and endpoint class. Satisfied by
// limiter.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID, endpointClass, identifier string) limiter.Decision
}

type RagConfig struct {
	TopK          int
	Threshold     float32
	PromptBudget  int
	AnswerTimeout time.Duration
}

// RagService orchestrates one request/response cycle: rate limit, cache
// lookup, query embedding, retrieval over completed documents, prompt
// assembly, generation, then persistence and caching of the exchange.
type RagService struct {
	conversations Conversations
	contexts      ContextStore
	embedder      Embedder
	vectors       vectorstore.Store
	generator     ai.IGenerator
	genPolicy     ai.RetryPolicy
	cache         ResponseCache
	limits        RateLimiter
	composer      *promptComposer
	stats         latencyStats

	topK          int
	threshold     float32
	answerTimeout time.Duration
}

func NewRagService(conversations Conversations, contexts ContextStore, embedder Embedder,
	vectors vectorstore.Store, generator ai.IGenerator, genPolicy ai.RetryPolicy,
	cache ResponseCache, limits RateLimiter, cfg RagConfig) *RagService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	return &RagService{
		conversations: conversations,
		contexts:      contexts,
		embedder:      embedder,
		vectors:       vectors,
		generator:     generator,
		genPolicy:     genPolicy,
		cache:         cache,
		limits:        limits,
		composer:      newPromptComposer(cfg.PromptBudget),
		topK:          cfg.TopK,
		threshold:     cfg.Threshold,
		answerTimeout: cfg.AnswerTimeout,
	}
}

// Answer runs the full cycle for one user query.
func (s *RagService) Answer(ctx context.Context, tenantID, sessionID, query string) (*model.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrInvalid)
	}
	start := time.Now()
	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
	)

	if decision := s.limits.Allow(ctx, tenantID, classChat, sessionID); !decision.Allowed {
		return nil, &apperrors.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	// Aggregate budget for the whole cycle. Persistence and caching run
	// detached from it; a cache hit returns long before it matters.
	ctx, cancel := context.WithTimeout(ctx, s.answerTimeout)
	defer cancel()

	conversation, err := s.conversations.GetOrCreate(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	window, err := s.contexts.Context(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	cacheKey := respcache.Key(tenantID, query, fingerprint(window))
	cached, hit, cacheErr := s.cache.Get(ctx, cacheKey)
	if cacheErr != nil {
		logger.Warn("response cache lookup failed", zap.Error(cacheErr))
	}
	if hit {
		s.persistExchange(ctx, conversation.ID, query, cached.Text)
		answer := &model.Answer{
			Text:           cached.Text,
			Sources:        cached.Sources,
			Confidence:     cached.Confidence,
			Cached:         true,
			ProcessingTime: time.Since(start),
		}
		s.stats.Record(answer.ProcessingTime)
		return answer, nil
	}

	matches, err := s.retrieve(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}

	prompt := s.composer.Compose(query, matches, window)
	text, genErr := s.generate(ctx, prompt)
	if genErr != nil {
		// Degraded fallback: the exchange is still recorded, but a canned
		// answer is returned and nothing is cached.
		logger.Warn("generation failed after retries, serving fallback", zap.Error(genErr))
		s.persistExchange(ctx, conversation.ID, query, fallbackText)
		answer := &model.Answer{
			Text:           fallbackText,
			Degraded:       true,
			ProcessingTime: time.Since(start),
		}
		s.stats.Record(answer.ProcessingTime)
		return answer, nil
	}

	sources, confidence := summarizeMatches(matches)
	answer := &model.Answer{
		Text:           text,
		Sources:        sources,
		Confidence:     confidence,
		ProcessingTime: time.Since(start),
	}
	s.persistExchange(ctx, conversation.ID, query, text)

	bgctx := context.WithoutCancel(ctx)
	_ = s.cache.Set(bgctx, cacheKey, tenantID, &model.CachedAnswer{
		Text:        text,
		Sources:     sources,
		Confidence:  confidence,
		DocumentIDs: documentIDs(sources),
	})

	s.stats.Record(answer.ProcessingTime)
	logger.Debug("answer generated",
		zap.Int("sources", len(sources)),
		zap.Duration("cost", answer.ProcessingTime),
	)
	return answer, nil
}

// Search exposes retrieval without generation.
func (s *RagService) Search(ctx context.Context, tenantID, query string, k int, threshold float32) ([]vectorstore.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrInvalid)
	}
	if decision := s.limits.Allow(ctx, tenantID, classSearch, ""); !decision.Allowed {
		return nil, &apperrors.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	if k <= 0 {
		k = s.topK
	}
	if threshold <= 0 {
		threshold = s.threshold
	}
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vectors.Search(ctx, tenantID, vector, k, threshold, completedOnly())
}

// Stats reports the retained latency window for the health endpoint.
func (s *RagService) Stats() (int, time.Duration) {
	return s.stats.Snapshot()
}

func (s *RagService) retrieve(ctx context.Context, tenantID, query string) ([]vectorstore.Match, error) {
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.vectors.Search(ctx, tenantID, vector, s.topK, s.threshold, completedOnly())
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *RagService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := s.embedder.EmbedTexts(ctx, []string{query}, embed.TaskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceDegraded, err)
	}
	return vectors[0], nil
}

func (s *RagService) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := s.genPolicy.Do(ctx, func(ctx context.Context) error {
		res, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = res
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrGenerationUnavailable, err)
	}
	return text, nil
}

// persistExchange appends the user message and the answer. Runs detached from
// request cancellation so a dropped client does not lose the exchange.
func (s *RagService) persistExchange(ctx context.Context, conversationID, query, answer string) {
	bgctx := context.WithoutCancel(ctx)
	if _, err := s.contexts.Append(bgctx, conversationID, model.SenderUser, query); err != nil {
		logutil.GetLogger(ctx).Error("append user message failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if _, err := s.contexts.Append(bgctx, conversationID, model.SenderAI, answer); err != nil {
		logutil.GetLogger(ctx).Error("append ai message failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func completedOnly() vectorstore.SearchFilter {
	return vectorstore.SearchFilter{Statuses: []model.DocumentStatus{model.DocumentStatusCompleted}}
}

// fingerprint hashes the window's message IDs so a cache entry is bound to
// the exact conversation state it answered under.
func fingerprint(window []model.Message) string {
	h := sha256.New()
	for _, msg := range window {
		h.Write([]byte(msg.ID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func summarizeMatches(matches []vectorstore.Match) ([]model.AnswerSource, float32) {
	if len(matches) == 0 {
		return nil, ungroundedConfidence
	}
	sources := make([]model.AnswerSource, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, model.AnswerSource{
			ChunkID:     m.ID,
			DocumentID:  m.Meta.DocumentID,
			ChunkIndex:  m.Meta.ChunkIndex,
			SourceTitle: m.Meta.SourceTitle,
			Score:       m.Score,
		})
	}
	return sources, matches[0].Score
}

func documentIDs(sources []model.AnswerSource) []string {
	seen := make(map[string]struct{}, len(sources))
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		if _, ok := seen[src.DocumentID]; ok {
			continue
		}
		seen[src.DocumentID] = struct{}{}
		ids = append(ids, src.DocumentID)
	}
	return ids
}

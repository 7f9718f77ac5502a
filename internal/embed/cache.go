package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// WrapLRU puts a bounded in-process cache in front of an embedder so repeated
// queries skip the model endpoint. Keyed by model, task type and content hash.
func WrapLRU(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		key := cacheKey(l.next.ModelName(), taskType, text)
		if cached, ok := l.cache.Get(key); ok {
			results[i] = cloneVector(cached)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.Int("texts", len(texts)))
		return results, nil
	}
	fresh, err := l.next.Embed(ctx, missTexts, taskType)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		i := missIdx[j]
		results[i] = vec
		l.cache.Add(cacheKey(l.next.ModelName(), taskType, texts[i]), cloneVector(vec))
	}
	return results, nil
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func cacheKey(model, taskType, text string) string {
	hash := sha256.Sum256([]byte(text))
	return model + "|" + taskType + "|" + hex.EncodeToString(hash[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

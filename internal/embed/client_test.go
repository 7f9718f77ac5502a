package embed_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/embed"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
)

type scriptedEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	fail    bool
	dims    func(text string) int
}

func (s *scriptedEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	s.mu.Lock()
	batch := make([]string, len(texts))
	copy(batch, texts)
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	if s.fail {
		return nil, ai.ErrUnavailable
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		dims := 2
		if s.dims != nil {
			dims = s.dims(text)
		}
		vec := make([]float32, dims)
		vec[0] = float32(len(text))
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *scriptedEmbedder) ModelName() string {
	return "scripted/v1"
}

func noRetry() ai.RetryPolicy {
	return ai.RetryPolicy{MaxAttempts: 1}
}

func TestEmbedTextsPreservesOrderAcrossBatches(t *testing.T) {
	backend := &scriptedEmbedder{}
	client := embed.NewClient(backend, noRetry(), embed.ClientConfig{BatchSize: 2, Parallelism: 2})

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vectors, err := client.EmbedTexts(context.Background(), texts, embed.TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vectors, 7)
	for i, vec := range vectors {
		require.Equal(t, float32(len(texts[i])), vec[0], "vector %d out of order", i)
	}
	require.Len(t, backend.batches, 4)
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	client := embed.NewClient(&scriptedEmbedder{}, noRetry(), embed.ClientConfig{})
	vectors, err := client.EmbedTexts(context.Background(), nil, embed.TaskTypeQuery)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestEmbedTextsWrapsExhaustion(t *testing.T) {
	backend := &scriptedEmbedder{fail: true}
	client := embed.NewClient(backend, noRetry(), embed.ClientConfig{})

	_, err := client.EmbedTexts(context.Background(), []string{"a"}, embed.TaskTypeQuery)
	require.ErrorIs(t, err, apperrors.ErrEmbeddingUnavailable)
}

func TestEmbedTextsDetectsDimensionMix(t *testing.T) {
	backend := &scriptedEmbedder{dims: func(text string) int {
		if text == "odd" {
			return 3
		}
		return 2
	}}
	client := embed.NewClient(backend, noRetry(), embed.ClientConfig{BatchSize: 1, Parallelism: 1})

	_, err := client.EmbedTexts(context.Background(), []string{"a", "odd"}, embed.TaskTypeDocument)
	require.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
}

func TestClientModelName(t *testing.T) {
	client := embed.NewClient(&scriptedEmbedder{}, noRetry(), embed.ClientConfig{})
	require.Equal(t, "scripted/v1", client.ModelName())
}

package embed

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chatforge/ragpipe/internal/ai"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

const (
	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    = "RETRIEVAL_QUERY"
)

type ClientConfig struct {
	BatchSize   int
	Parallelism int
	// RatePerSec paces requests toward the model-serving endpoint; zero
	// disables pacing.
	RatePerSec float64
}

// Client is the embedding front door used by both ingestion and query paths.
// It batches inputs, paces requests, retries transient failures and surfaces
// exhaustion as ErrEmbeddingUnavailable so callers can treat it as retryable.
type Client struct {
	embedder ai.IEmbedder
	policy   ai.RetryPolicy
	pacer    *rate.Limiter
	cfg      ClientConfig
}

func NewClient(embedder ai.IEmbedder, policy ai.RetryPolicy, cfg ClientConfig) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	var pacer *rate.Limiter
	if cfg.RatePerSec > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Client{embedder: embedder, policy: policy, pacer: pacer, cfg: cfg}
}

// EmbedTexts returns one vector per input text, in input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		offset, batch := start, texts[start:end]
		g.Go(func() error {
			vectors, err := c.embedBatch(gctx, batch, taskType)
			if err != nil {
				return err
			}
			copy(results[offset:], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logutil.GetLogger(ctx).Warn("embedding failed after retries", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingUnavailable, err)
	}

	dims := len(results[0])
	for i, vec := range results {
		if len(vec) != dims {
			return nil, fmt.Errorf("%w: vector %d has %d dims, expected %d", apperrors.ErrDimensionMismatch, i, len(vec), dims)
		}
	}
	return results, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, taskType string) ([][]float32, error) {
	var vectors [][]float32
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := c.embedder.Embed(ctx, batch, taskType)
		if err != nil {
			return err
		}
		if len(res) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(res), len(batch))
		}
		vectors = res
		return nil
	})
	return vectors, err
}

// ModelName tags every collection so a model/version swap is detected instead
// of silently mixing dimensions.
func (c *Client) ModelName() string {
	return c.embedder.ModelName()
}

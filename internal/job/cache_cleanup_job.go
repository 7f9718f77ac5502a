package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/respcache"
)

// CacheCleanupJob sweeps expired response-cache rows and old rate-limit
// events.
type CacheCleanupJob struct {
	cache      *respcache.Cache
	rateEvents *limiter.PostgresStore
	keepEvents time.Duration
}

func NewCacheCleanupJob(cache *respcache.Cache, rateEvents *limiter.PostgresStore, keepEvents time.Duration) *CacheCleanupJob {
	if keepEvents <= 0 {
		keepEvents = 24 * time.Hour
	}
	return &CacheCleanupJob{cache: cache, rateEvents: rateEvents, keepEvents: keepEvents}
}

func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

func (j *CacheCleanupJob) Run(ctx context.Context) error {
	removed, err := j.cache.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	pruned := int64(0)
	if j.rateEvents != nil {
		pruned, err = j.rateEvents.Prune(ctx, j.keepEvents)
		if err != nil {
			return err
		}
	}
	logutil.GetLogger(ctx).Info("cache cleanup done",
		zap.Int64("expired_entries", removed),
		zap.Int64("pruned_events", pruned),
	)
	return nil
}

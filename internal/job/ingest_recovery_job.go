package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/ingest"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

const recoveryBatchSize = 50

// IngestRecoveryJob fails documents stuck in processing, usually left behind
// by a crashed instance, so they can be reprocessed.
type IngestRecoveryJob struct {
	pipeline *ingest.Pipeline
	cutoff   time.Duration
}

func NewIngestRecoveryJob(pipeline *ingest.Pipeline, cutoff time.Duration) *IngestRecoveryJob {
	if cutoff <= 0 {
		cutoff = 30 * time.Minute
	}
	return &IngestRecoveryJob{pipeline: pipeline, cutoff: cutoff}
}

func (j *IngestRecoveryJob) Name() string {
	return "ingest_recovery"
}

func (j *IngestRecoveryJob) Run(ctx context.Context) error {
	recovered, err := j.pipeline.RecoverStuck(ctx, j.cutoff, recoveryBatchSize)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logutil.GetLogger(ctx).Info("stuck documents recovered", zap.Int("count", recovered))
	}
	return nil
}

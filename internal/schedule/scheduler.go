package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// Job is one scheduled maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. A job still running when its next tick
// arrives is skipped, not stacked.
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

func (s *Scheduler) Add(spec string, job Job) error {
	var running atomic.Bool
	_, err := s.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			logutil.GetLogger(context.Background()).Warn("job still running, skipping tick",
				zap.String("job", job.Name()))
			return
		}
		defer running.Store(false)

		ctx := context.Background()
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			logutil.GetLogger(ctx).Error("job failed",
				zap.String("job", job.Name()), zap.Error(err))
			return
		}
		logutil.GetLogger(ctx).Info("job finished",
			zap.String("job", job.Name()), zap.Duration("cost", time.Since(start)))
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

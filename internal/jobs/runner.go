package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is a long-running loop that returns when ctx is done.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner runs jobs together. The first job to fail cancels the others.
type Runner struct {
	Jobs   []Job
	Logger *zap.Logger
}

func (r Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range r.Jobs {
		job := job
		g.Go(func() error {
			logger.Info("job started", zap.String("job", job.Name()))
			defer logger.Info("job stopped", zap.String("job", job.Name()))
			if err := job.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", job.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

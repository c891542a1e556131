// Package jobs runs the engine's periodic work: the assignment tick and the
// daily counter reset.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"civicops/internal/engine"
	"civicops/internal/lock"
)

// Assigner runs one assignment pass.
type Assigner interface {
	AssignPending(ctx context.Context, actorID string) (engine.TickResult, error)
}

// Scheduler drives the assignment tick. A tick that finds another tick running is
// skipped, never queued; a running tick finishes even when Run is cancelled.
type Scheduler struct {
	Assigner Assigner
	Interval time.Duration
	// Shared is an optional cross-process lock taken after the in-process one.
	Shared  lock.Locker
	Logger  *zap.Logger
	ActorID string

	local lock.Local
}

func NewScheduler(a Assigner, interval time.Duration, shared lock.Locker, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Assigner: a,
		Interval: interval,
		Shared:   shared,
		Logger:   logger,
		ActorID:  "scheduler",
	}
}

func (s *Scheduler) Name() string { return "assignment-scheduler" }

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *Scheduler) locker() lock.Locker {
	if s.Shared == nil {
		return &s.local
	}
	return lock.Chain{&s.local, s.Shared}
}

// Running reports whether this process is inside a tick.
func (s *Scheduler) Running() bool { return s.local.Held() }

// Tick runs one assignment pass unless one is already running, in which case the
// result has Skipped set. The pass ignores cancellation of ctx.
func (s *Scheduler) Tick(ctx context.Context) (engine.TickResult, error) {
	return s.tickAs(ctx, s.ActorID)
}

// TickAs is Tick on behalf of a named actor, used by manual triggers.
func (s *Scheduler) TickAs(ctx context.Context, actorID string) (engine.TickResult, error) {
	return s.tickAs(ctx, actorID)
}

func (s *Scheduler) tickAs(ctx context.Context, actorID string) (engine.TickResult, error) {
	unlock, ok, err := s.locker().TryLock(ctx)
	if err != nil {
		return engine.TickResult{}, fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		s.logger().Info("assignment tick skipped, previous tick still running")
		return engine.TickResult{Skipped: true}, nil
	}
	detached := context.WithoutCancel(ctx)
	defer func() {
		if err := unlock(detached); err != nil {
			s.logger().Warn("release tick lock", zap.Error(err))
		}
	}()
	return s.Assigner.AssignPending(detached, actorID)
}

// Run ticks every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger().Error("assignment tick failed", zap.Error(err))
			}
		}
	}
}

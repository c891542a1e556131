package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"civicops/internal/engine"
)

// Resetter zeroes daily worker counters for the current day.
type Resetter interface {
	ResetDailyCounts(ctx context.Context, actorID string) (engine.ResetResult, error)
}

// DailyReset runs the reset once at start-up, catching up after downtime, and then
// at every local midnight of Location.
type DailyReset struct {
	Resetter Resetter
	Location *time.Location
	Logger   *zap.Logger
	ActorID  string
	Now      func() time.Time

	// wait is replaced in tests.
	wait func(d time.Duration) <-chan time.Time
}

func NewDailyReset(r Resetter, loc *time.Location, logger *zap.Logger) *DailyReset {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailyReset{Resetter: r, Location: loc, Logger: logger, ActorID: "daily-reset", Now: time.Now}
}

func (d *DailyReset) Name() string { return "daily-reset" }

func (d *DailyReset) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// NextBoundary returns the first local midnight strictly after now.
func NextBoundary(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	y, m, day := t.Date()
	return time.Date(y, m, day+1, 0, 0, 0, 0, loc)
}

func (d *DailyReset) runOnce(ctx context.Context) {
	res, err := d.Resetter.ResetDailyCounts(context.WithoutCancel(ctx), d.ActorID)
	if err != nil {
		d.logger().Error("daily reset failed", zap.Error(err))
		return
	}
	d.logger().Debug("daily reset done", zap.String("day", res.Day), zap.Int64("workers", res.Workers))
}

func (d *DailyReset) Run(ctx context.Context) error {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	wait := d.wait
	if wait == nil {
		wait = func(dur time.Duration) <-chan time.Time {
			return time.After(dur)
		}
	}
	d.runOnce(ctx)
	for {
		current := now()
		next := NextBoundary(current, d.Location)
		d.logger().Debug("next daily reset", zap.Time("at", next))
		select {
		case <-ctx.Done():
			return nil
		case <-wait(next.Sub(current)):
			d.runOnce(ctx)
		}
	}
}

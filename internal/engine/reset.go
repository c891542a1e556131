package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"civicops/internal/events"
)

// ResetResult reports one daily reset run.
type ResetResult struct {
	Day     string `json:"day"`
	Workers int64  `json:"workers"`
}

// Today returns the calendar day of the reset boundary's timezone.
func (e Engine) Today() (string, error) {
	loc, err := e.config().Location()
	if err != nil {
		return "", err
	}
	return e.now().In(loc).Format("2006-01-02"), nil
}

// ResetDailyCounts zeroes the daily counter of every active worker not yet reset today.
// Running it again on the same day changes nothing.
func (e Engine) ResetDailyCounts(ctx context.Context, actorID string) (ResetResult, error) {
	day, err := e.Today()
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset timezone: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResetResult{}, err
	}
	defer tx.Rollback()

	n, err := e.Repo.ResetDailyCountsTx(ctx, tx, day)
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset daily counts: %w", err)
	}
	if n > 0 {
		if err := e.appendEvent(ctx, tx, events.WorkersDailyReset, "workers", "", actorID, events.EventPayload{
			"day":     day,
			"workers": n,
		}); err != nil {
			return ResetResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ResetResult{}, err
	}
	e.logger().Info("daily reset", zap.String("day", day), zap.Int64("workers", n))
	return ResetResult{Day: day, Workers: n}, nil
}

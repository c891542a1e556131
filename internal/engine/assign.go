package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"civicops/internal/domain"
	"civicops/internal/events"
	"civicops/internal/lifecycle"
	"civicops/internal/priority"
	"civicops/internal/repo"
	"civicops/internal/selector"
)

// TickResult summarises one assignment pass.
type TickResult struct {
	Considered int                 `json:"considered"`
	Assigned   []domain.Assignment `json:"assigned"`
	Unassigned []string            `json:"unassigned"`
	Failed     map[string]string   `json:"failed,omitempty"`
	Skipped    bool                `json:"skipped"`
}

// workerPool is the tick's view of worker load, updated after every commit.
type workerPool []domain.Worker

func (p workerPool) bump(id string) {
	for i := range p {
		if p[i].ID == id {
			p[i].DailyTaskCount++
			return
		}
	}
}

// startDay zeroes counters still stamped with an earlier day, matching how storage
// treats them on the next increment.
func (p workerPool) startDay(day string) {
	for i := range p {
		if p[i].LastResetOn == nil || *p[i].LastResetOn != day {
			p[i].DailyTaskCount = 0
		}
	}
}

func (p workerPool) markFull(id string) {
	for i := range p {
		if p[i].ID == id {
			p[i].DailyTaskCount = p[i].DailyCap
			return
		}
	}
}

// AssignPending scores every pending report, then assigns in rank order.
// A failure on one report is recorded and the pass continues with the next.
func (e Engine) AssignPending(ctx context.Context, actorID string) (TickResult, error) {
	log := e.logger()
	day, err := e.Today()
	if err != nil {
		return TickResult{}, fmt.Errorf("reset timezone: %w", err)
	}
	pending, err := e.Repo.ListReports(ctx, repo.ReportFilter{Statuses: []domain.Status{domain.StatusPending}})
	if err != nil {
		return TickResult{}, fmt.Errorf("load pending reports: %w", err)
	}
	open, err := e.Repo.ListReports(ctx, repo.ReportFilter{Statuses: []domain.Status{domain.StatusPending, domain.StatusAssigned}})
	if err != nil {
		return TickResult{}, fmt.Errorf("load open reports: %w", err)
	}
	workers, err := e.Repo.ListWorkers(ctx, repo.WorkerFilter{ActiveOnly: true})
	if err != nil {
		return TickResult{}, fmt.Errorf("load workers: %w", err)
	}
	pool := workerPool(workers)
	pool.startDay(day)
	ranked := priority.FromConfig(e.config()).ScoreAll(pending, open)

	res := TickResult{Considered: len(ranked), Failed: map[string]string{}}
	var waiting []priority.Scored
	for _, item := range ranked {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a, ok, err := e.assignOne(ctx, item, pool, day, actorID)
		switch {
		case err != nil:
			log.Warn("assignment failed",
				zap.String("report_id", item.Report.ID),
				zap.Error(err))
			res.Failed[item.Report.ID] = err.Error()
			waiting = append(waiting, item)
		case !ok:
			res.Unassigned = append(res.Unassigned, item.Report.ID)
			waiting = append(waiting, item)
		default:
			res.Assigned = append(res.Assigned, a)
		}
	}

	for _, item := range waiting {
		if err := e.Repo.UpdatePendingPriority(ctx, nil, item.Report.ID, item.Score); err != nil {
			log.Debug("refresh priority", zap.String("report_id", item.Report.ID), zap.Error(err))
		}
	}
	if err := e.recordTick(ctx, actorID, res); err != nil {
		log.Warn("record tick", zap.Error(err))
	}
	log.Info("assignment tick",
		zap.Int("considered", res.Considered),
		zap.Int("assigned", len(res.Assigned)),
		zap.Int("unassigned", len(res.Unassigned)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

// assignOne retries selection while the chosen worker turns out to be full in storage.
func (e Engine) assignOne(ctx context.Context, item priority.Scored, pool workerPool, day, actorID string) (domain.Assignment, bool, error) {
	for {
		w, ok := selector.Select(item.Report, pool)
		if !ok {
			e.logger().Debug("no eligible worker",
				zap.String("report_id", item.Report.ID),
				zap.String("district", string(item.Report.District)),
				zap.String("problem_type", string(item.Report.ProblemType)),
				zap.String("reason", selector.Explain(item.Report, pool)))
			return domain.Assignment{}, false, nil
		}
		a, err := e.commitAssignment(ctx, item, w, day, actorID)
		if errors.Is(err, repo.ErrCapReached) {
			pool.markFull(w.ID)
			continue
		}
		if err != nil {
			return domain.Assignment{}, false, err
		}
		pool.bump(w.ID)
		return a, true, nil
	}
}

func (e Engine) commitAssignment(ctx context.Context, item priority.Scored, w domain.Worker, day, actorID string) (domain.Assignment, error) {
	if err := lifecycle.CanTransition(item.Report.Status, domain.StatusAssigned); err != nil {
		return domain.Assignment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.IncrementDailyCountTx(ctx, tx, w.ID, day); err != nil {
		return domain.Assignment{}, fmt.Errorf("reserve worker %s: %w", w.ID, err)
	}
	a := domain.Assignment{
		ID:         uuid.NewString(),
		ReportID:   item.Report.ID,
		WorkerID:   w.ID,
		AssignedAt: e.stamp(),
		Priority:   item.Score,
	}
	if err := e.Repo.AssignReportTx(ctx, tx, a.ReportID, a.WorkerID, a.AssignedAt, a.Priority); err != nil {
		return domain.Assignment{}, fmt.Errorf("assign report: %w", err)
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ReportAssigned, "report", a.ReportID, actorID, events.EventPayload{
		"worker_id":     a.WorkerID,
		"assignment_id": a.ID,
		"priority":      a.Priority,
		"density":       item.Density,
		"district":      item.Report.District,
		"department":    w.Department,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

func (e Engine) recordTick(ctx context.Context, actorID string, res TickResult) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.appendEvent(ctx, tx, events.AssignmentTick, "scheduler", "", actorID, events.EventPayload{
		"considered": res.Considered,
		"assigned":   len(res.Assigned),
		"unassigned": len(res.Unassigned),
		"failed":     len(res.Failed),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

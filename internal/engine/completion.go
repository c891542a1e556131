package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"civicops/internal/domain"
	"civicops/internal/engine/auth"
	"civicops/internal/events"
	"civicops/internal/geo"
	"civicops/internal/lifecycle"
	"civicops/internal/repo"
)

// CompletionClaim is a worker's on-site evidence that a task is done.
type CompletionClaim struct {
	ReportID      string
	WorkerID      string
	Latitude      float64
	Longitude     float64
	ProofPhotoRef string
}

// CompletionResult is the outcome of the distance gate. A refused claim is not an error.
type CompletionResult struct {
	Accepted        bool          `json:"accepted"`
	DistanceMeters  float64       `json:"distance_meters"`
	ThresholdMeters float64       `json:"threshold_meters"`
	Report          domain.Report `json:"report"`
}

// Message renders the worker-facing explanation of a refused claim.
func (r CompletionResult) Message() string {
	if r.Accepted {
		return fmt.Sprintf("completion accepted %d meters from the report", int(math.Round(r.DistanceMeters)))
	}
	return fmt.Sprintf("you are %d meters away (max allowed: %d meters)",
		int(math.Round(r.DistanceMeters)), int(math.Round(r.ThresholdMeters)))
}

// SubmitCompletion checks the claim against the report location and completes the
// report when the worker stood within the verification radius.
func (e Engine) SubmitCompletion(ctx context.Context, c CompletionClaim) (CompletionResult, error) {
	if err := geo.ValidateCoordinates(c.Latitude, c.Longitude); err != nil {
		return CompletionResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionResult{}, err
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReportTx(ctx, tx, c.ReportID)
	if err != nil {
		return CompletionResult{}, err
	}
	if rep.Status != domain.StatusAssigned {
		return CompletionResult{}, NotAssignedError{ReportID: rep.ID, Status: rep.Status}
	}
	if rep.AssignedWorkerID == nil || *rep.AssignedWorkerID != c.WorkerID {
		return CompletionResult{}, NotAssigneeError{ReportID: rep.ID, WorkerID: c.WorkerID}
	}

	res := CompletionResult{
		DistanceMeters:  geo.Distance(rep.Latitude, rep.Longitude, c.Latitude, c.Longitude),
		ThresholdMeters: e.config().Verification.RadiusMeters,
	}
	payload := events.EventPayload{
		"worker_id":        c.WorkerID,
		"distance_meters":  res.DistanceMeters,
		"threshold_meters": res.ThresholdMeters,
		"latitude":         c.Latitude,
		"longitude":        c.Longitude,
	}
	if res.DistanceMeters > res.ThresholdMeters {
		if err := e.appendEvent(ctx, tx, events.ReportCompletionRefused, "report", rep.ID, c.WorkerID, payload); err != nil {
			return CompletionResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return CompletionResult{}, err
		}
		e.logger().Info("completion refused",
			zap.String("report_id", rep.ID),
			zap.String("worker_id", c.WorkerID),
			zap.Float64("distance_meters", res.DistanceMeters),
			zap.Float64("threshold_meters", res.ThresholdMeters))
		res.Report = rep
		return res, nil
	}

	if err := lifecycle.CanTransition(rep.Status, domain.StatusCompleted); err != nil {
		return CompletionResult{}, err
	}
	if err := e.Repo.CompleteReportTx(ctx, tx, repo.Completion{
		ReportID:      rep.ID,
		WorkerID:      c.WorkerID,
		Latitude:      c.Latitude,
		Longitude:     c.Longitude,
		ProofPhotoRef: c.ProofPhotoRef,
		At:            e.stamp(),
	}); err != nil {
		return CompletionResult{}, fmt.Errorf("complete report: %w", err)
	}
	if c.ProofPhotoRef != "" {
		payload["proof_photo_ref"] = c.ProofPhotoRef
	}
	if err := e.appendEvent(ctx, tx, events.ReportCompleted, "report", rep.ID, c.WorkerID, payload); err != nil {
		return CompletionResult{}, err
	}
	updated, err := e.Repo.GetReportTx(ctx, tx, rep.ID)
	if err != nil {
		return CompletionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompletionResult{}, err
	}
	res.Accepted = true
	res.Report = updated
	return res, nil
}

// VerifyReport records the reporter's confirmation of a completed report.
func (e Engine) VerifyReport(ctx context.Context, reportID string, actor auth.Actor) (domain.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReportTx(ctx, tx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := auth.CanVerify(actor, rep); err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.CanTransition(rep.Status, domain.StatusVerified); err != nil {
		return domain.Report{}, err
	}
	if err := e.Repo.VerifyReportTx(ctx, tx, rep.ID, e.stamp()); err != nil {
		return domain.Report{}, fmt.Errorf("verify report: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ReportVerified, "report", rep.ID, actor.ID, events.EventPayload{"from": rep.Status}); err != nil {
		return domain.Report{}, err
	}
	updated, err := e.Repo.GetReportTx(ctx, tx, rep.ID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return updated, nil
}

// RejectReport closes a non-terminal report. The assignee keeps the daily slot it used.
func (e Engine) RejectReport(ctx context.Context, reportID, reason string, actor auth.Actor) (domain.Report, error) {
	if err := auth.CanReject(actor); err != nil {
		return domain.Report{}, err
	}
	reason = strings.TrimSpace(reason)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReportTx(ctx, tx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.CanTransition(rep.Status, domain.StatusRejected); err != nil {
		return domain.Report{}, err
	}
	if err := e.Repo.RejectReportTx(ctx, tx, rep.ID, rep.Status, reason, e.stamp()); err != nil {
		return domain.Report{}, fmt.Errorf("reject report: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ReportRejected, "report", rep.ID, actor.ID, events.EventPayload{
		"from":   rep.Status,
		"reason": reason,
	}); err != nil {
		return domain.Report{}, err
	}
	updated, err := e.Repo.GetReportTx(ctx, tx, rep.ID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return updated, nil
}

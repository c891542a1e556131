// Package engine applies report state changes. Every mutation runs in one SQLite
// transaction together with the audit event that describes it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"civicops/internal/config"
	"civicops/internal/domain"
	"civicops/internal/events"
	"civicops/internal/geo"
	"civicops/internal/lifecycle"
	"civicops/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

var (
	ErrInvalidCoordinates = geo.ErrInvalidCoordinates
	ErrCapReached         = repo.ErrCapReached
	ErrConcurrentUpdate   = repo.ErrConcurrentUpdate
	ErrNotFound           = repo.ErrNotFound
)

// NotAssignedError is returned for completion claims on a report that is not awaiting work.
type NotAssignedError struct {
	ReportID string
	Status   domain.Status
}

func (e NotAssignedError) Error() string {
	return fmt.Sprintf("report %s is %s, not assigned", e.ReportID, e.Status)
}

// NotAssigneeError is returned when someone other than the assigned worker claims completion.
type NotAssigneeError struct {
	ReportID string
	WorkerID string
}

func (e NotAssigneeError) Error() string {
	return fmt.Sprintf("report %s is not assigned to worker %s", e.ReportID, e.WorkerID)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

// TransitionCheck answers whether a report may move to a status right now.
type TransitionCheck struct {
	From    domain.Status `json:"from"`
	To      domain.Status `json:"to"`
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
}

// CanTransition is a read-only query over the report's current status.
func (e Engine) CanTransition(ctx context.Context, reportID string, to domain.Status) (TransitionCheck, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return TransitionCheck{}, err
	}
	res := TransitionCheck{From: rep.Status, To: to, Allowed: true}
	if err := lifecycle.CanTransition(rep.Status, to); err != nil {
		res.Allowed = false
		res.Reason = err.Error()
	}
	return res, nil
}

// IsNotFound reports whether err means the addressed entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended to the audit log.
const (
	ReportAssigned          = "report.assigned"
	ReportCompleted         = "report.completed"
	ReportCompletionRefused = "report.completion.rejected"
	ReportVerified          = "report.verified"
	ReportRejected          = "report.rejected"
	WorkersDailyReset       = "workers.daily_reset"
	AssignmentTick          = "assignment.tick"
)

// Types lists every event type in emission order of a report's life.
var Types = []string{ReportAssigned, ReportCompleted, ReportCompletionRefused, ReportVerified, ReportRejected, WorkersDailyReset, AssignmentTick}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx so it commits or rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

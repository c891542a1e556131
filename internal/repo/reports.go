package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"civicops/internal/domain"
)

const reportColumns = `id,title,COALESCE(description,''),problem_type,district,latitude,longitude,status,priority,COALESCE(reporter_id,''),
assigned_worker_id,assigned_at,completion_latitude,completion_longitude,completed_at,proof_photo_ref,verified_at,rejection_reason,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var (
		rep                               domain.Report
		workerID, assignedAt, completedAt sql.NullString
		proof, verifiedAt, rejection      sql.NullString
		completionLat, completionLon      sql.NullFloat64
		problemType, district, status     string
	)
	err := row.Scan(&rep.ID, &rep.Title, &rep.Description, &problemType, &district, &rep.Latitude, &rep.Longitude,
		&status, &rep.Priority, &rep.ReporterID, &workerID, &assignedAt, &completionLat, &completionLon,
		&completedAt, &proof, &verifiedAt, &rejection, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.ProblemType = domain.ProblemType(problemType)
	rep.District = domain.District(district)
	rep.Status = domain.Status(status)
	rep.AssignedWorkerID = strPtr(workerID)
	rep.AssignedAt = strPtr(assignedAt)
	rep.CompletionLat = floatPtr(completionLat)
	rep.CompletionLon = floatPtr(completionLon)
	rep.CompletedAt = strPtr(completedAt)
	rep.ProofPhotoRef = strPtr(proof)
	rep.VerifiedAt = strPtr(verifiedAt)
	rep.RejectionReason = strPtr(rejection)
	return rep, nil
}

func scanReports(rows *sql.Rows) ([]domain.Report, error) {
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// InsertReport stores a new report as delivered by intake.
func (r Repo) InsertReport(ctx context.Context, rep domain.Report) error {
	return r.InsertReportTx(ctx, nil, rep)
}

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	if rep.Status == "" {
		rep.Status = domain.StatusPending
	}
	if rep.UpdatedAt == "" {
		rep.UpdatedAt = rep.CreatedAt
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO reports(id,title,description,problem_type,district,latitude,longitude,status,priority,reporter_id,
assigned_worker_id,assigned_at,completion_latitude,completion_longitude,completed_at,proof_photo_ref,verified_at,rejection_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Title, nullable(rep.Description), string(rep.ProblemType), string(rep.District), rep.Latitude, rep.Longitude,
		string(rep.Status), rep.Priority, nullable(rep.ReporterID), nullablePtr(rep.AssignedWorkerID), nullablePtr(rep.AssignedAt),
		nullableFloat(rep.CompletionLat), nullableFloat(rep.CompletionLon), nullablePtr(rep.CompletedAt), nullablePtr(rep.ProofPhotoRef),
		nullablePtr(rep.VerifiedAt), nullablePtr(rep.RejectionReason), rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return r.GetReportTx(ctx, nil, id)
}

func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	return scanReport(r.on(tx).QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

type ReportFilter struct {
	Statuses []domain.Status
	District string
	WorkerID string
	Limit    int
}

// ListReports returns reports oldest first, or highest priority first when filtered by worker.
func (r Repo) ListReports(ctx context.Context, f ReportFilter) ([]domain.Report, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.District != "" {
		clauses = append(clauses, "district=?")
		args = append(args, f.District)
	}
	order := "created_at ASC, id ASC"
	if f.WorkerID != "" {
		clauses = append(clauses, "assigned_worker_id=?")
		args = append(args, f.WorkerID)
		order = "priority DESC, created_at ASC, id ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY %s`, reportColumns, strings.Join(clauses, " AND "), order)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// CountReportsByStatus returns a histogram of report statuses.
func (r Repo) CountReportsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// UpdatePendingPriority refreshes the stored score of a report still waiting for a worker.
func (r Repo) UpdatePendingPriority(ctx context.Context, tx *sql.Tx, id string, score float64) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE reports SET priority=? WHERE id=? AND status='pending'`, score, id)
	return err
}

// AssignReportTx moves a pending report to assigned. ErrConcurrentUpdate when it is no longer pending.
func (r Repo) AssignReportTx(ctx context.Context, tx *sql.Tx, id, workerID, at string, score float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status='assigned', assigned_worker_id=?, assigned_at=?, priority=?, updated_at=?
WHERE id=? AND status='pending'`, workerID, at, score, at, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrConcurrentUpdate)
}

type Completion struct {
	ReportID      string
	WorkerID      string
	Latitude      float64
	Longitude     float64
	ProofPhotoRef string
	At            string
}

// CompleteReportTx records accepted completion evidence; only the assignee of an assigned report matches.
func (r Repo) CompleteReportTx(ctx context.Context, tx *sql.Tx, c Completion) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status='completed', completion_latitude=?, completion_longitude=?, proof_photo_ref=?,
completed_at=?, updated_at=? WHERE id=? AND status='assigned' AND assigned_worker_id=?`,
		c.Latitude, c.Longitude, nullable(c.ProofPhotoRef), c.At, c.At, c.ReportID, c.WorkerID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrConcurrentUpdate)
}

// VerifyReportTx confirms a completed report.
func (r Repo) VerifyReportTx(ctx context.Context, tx *sql.Tx, id, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status='verified', verified_at=?, updated_at=? WHERE id=? AND status='completed'`, at, at, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrConcurrentUpdate)
}

// RejectReportTx closes a report that is still in status from.
func (r Repo) RejectReportTx(ctx context.Context, tx *sql.Tx, id string, from domain.Status, reason, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status='rejected', rejection_reason=?, updated_at=? WHERE id=? AND status=?`,
		nullable(reason), at, id, string(from))
	if err != nil {
		return err
	}
	return expectOne(res, ErrConcurrentUpdate)
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id,report_id,worker_id,assigned_at,priority) VALUES (?,?,?,?,?)`,
		a.ID, a.ReportID, a.WorkerID, a.AssignedAt, a.Priority)
	return err
}

// ListAssignments returns the assignment history of a report, oldest first.
func (r Repo) ListAssignments(ctx context.Context, reportID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,report_id,worker_id,assigned_at,priority FROM assignments WHERE report_id=? ORDER BY assigned_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.ReportID, &a.WorkerID, &a.AssignedAt, &a.Priority); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

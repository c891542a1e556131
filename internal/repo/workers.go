package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"civicops/internal/domain"
)

const workerColumns = `id,COALESCE(name,''),district,department,active,daily_task_count,daily_cap,lifetime_task_count,last_reset_on,created_at`

func scanWorker(row rowScanner) (domain.Worker, error) {
	var (
		w                    domain.Worker
		district, department string
		active               int
		lastReset            sql.NullString
	)
	err := row.Scan(&w.ID, &w.Name, &district, &department, &active, &w.DailyTaskCount, &w.DailyCap, &w.LifetimeTaskCount, &lastReset, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.District = domain.District(district)
	w.Department = domain.Department(department)
	w.Active = active == 1
	w.LastResetOn = strPtr(lastReset)
	return w, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertWorker registers a worker or refreshes its registry fields, lifetime count included.
// The daily counter survives re-imports.
func (r Repo) UpsertWorker(ctx context.Context, w domain.Worker) error {
	return r.UpsertWorkerTx(ctx, nil, w)
}

func (r Repo) UpsertWorkerTx(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO workers(id,name,district,department,active,daily_task_count,daily_cap,lifetime_task_count,last_reset_on,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, district=excluded.district, department=excluded.department,
active=excluded.active, daily_cap=MAX(excluded.daily_cap, workers.daily_task_count), lifetime_task_count=excluded.lifetime_task_count`,
		w.ID, nullable(w.Name), string(w.District), string(w.Department), boolInt(w.Active), w.DailyTaskCount, w.DailyCap,
		w.LifetimeTaskCount, nullablePtr(w.LastResetOn), w.CreatedAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return scanWorker(r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

type WorkerFilter struct {
	District   string
	Department string
	ActiveOnly bool
}

func (r Repo) ListWorkers(ctx context.Context, f WorkerFilter) ([]domain.Worker, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.District != "" {
		clauses = append(clauses, "district=?")
		args = append(args, f.District)
	}
	if f.Department != "" {
		clauses = append(clauses, "department=?")
		args = append(args, f.Department)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM workers WHERE %s ORDER BY id ASC`, workerColumns, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// IncrementDailyCountTx takes one unit of the worker's capacity for day.
// A counter stamped with an earlier day starts over at 1 and the stamp moves to day,
// so a later reset for the same day leaves it alone.
// ErrCapReached when the worker is inactive or already full.
func (r Repo) IncrementDailyCountTx(ctx context.Context, tx *sql.Tx, id, day string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET daily_task_count=CASE WHEN last_reset_on IS ? THEN daily_task_count+1 ELSE 1 END, last_reset_on=?
WHERE id=? AND active=1 AND (CASE WHEN last_reset_on IS ? THEN daily_task_count ELSE 0 END)<daily_cap`, day, day, id, day)
	if err != nil {
		return err
	}
	return expectOne(res, ErrCapReached)
}

// ResetDailyCountsTx zeroes the counter of every active worker not yet reset on day.
func (r Repo) ResetDailyCountsTx(ctx context.Context, tx *sql.Tx, day string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET daily_task_count=0, last_reset_on=? WHERE active=1 AND (last_reset_on IS NULL OR last_reset_on<>?)`, day, day)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

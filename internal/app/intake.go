package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"civicops/internal/domain"
	"civicops/internal/geo"
	"civicops/internal/repo"
)

// ReportRecord is one citizen report as delivered by the intake feed.
type ReportRecord struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	ProblemType string  `yaml:"problem_type"`
	District    string  `yaml:"district"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	ReporterID  string  `yaml:"reporter_id"`
	CreatedAt   string  `yaml:"created_at"`
}

// WorkerRecord is one entry of the worker registry.
type WorkerRecord struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	District   string `yaml:"district"`
	Department string `yaml:"department"`
	Active     *bool  `yaml:"active"`
	DailyCap   int    `yaml:"daily_cap"`

	// LifetimeTasks is maintained by the analytics feed and only read here.
	LifetimeTasks int `yaml:"lifetime_task_count"`
}

// Intake is the YAML document accepted by the import commands. Either list may be empty.
type Intake struct {
	Reports []ReportRecord `yaml:"reports"`
	Workers []WorkerRecord `yaml:"workers"`
}

// RecordError names the offending entry of an intake file.
type RecordError struct {
	Kind  string
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s #%d: %v", e.Kind, e.Index+1, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// ReadIntake parses an intake file.
func ReadIntake(path string) (Intake, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Intake{}, err
	}
	return ParseIntake(data)
}

func ParseIntake(data []byte) (Intake, error) {
	var in Intake
	if err := yaml.Unmarshal(data, &in); err != nil {
		return Intake{}, fmt.Errorf("invalid intake yaml: %w", err)
	}
	return in, nil
}

// ReportsAt validates every record before anything is written, so a bad file imports nothing.
func (in Intake) ReportsAt(now time.Time) ([]domain.Report, error) {
	out := make([]domain.Report, 0, len(in.Reports))
	seen := map[string]bool{}
	for i, rec := range in.Reports {
		rep, err := rec.toReport(now)
		if err != nil {
			return nil, RecordError{Kind: "report", Index: i, Err: err}
		}
		if seen[rep.ID] {
			return nil, RecordError{Kind: "report", Index: i, Err: fmt.Errorf("duplicate id %q", rep.ID)}
		}
		seen[rep.ID] = true
		out = append(out, rep)
	}
	return out, nil
}

func (rec ReportRecord) toReport(now time.Time) (domain.Report, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return domain.Report{}, errors.New("title required")
	}
	pt, err := domain.ParseProblemType(rec.ProblemType)
	if err != nil {
		return domain.Report{}, err
	}
	district, err := domain.ParseDistrict(rec.District)
	if err != nil {
		return domain.Report{}, err
	}
	if err := geo.ValidateCoordinates(rec.Latitude, rec.Longitude); err != nil {
		return domain.Report{}, err
	}
	createdAt := now
	if raw := strings.TrimSpace(rec.CreatedAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Report{}, fmt.Errorf("created_at: %w", err)
		}
		createdAt = t
	}
	// stored timestamps are UTC so they order correctly as text
	created := createdAt.UTC().Format(time.RFC3339)
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return domain.Report{
		ID:          id,
		Title:       strings.TrimSpace(rec.Title),
		Description: rec.Description,
		ProblemType: pt,
		District:    district,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Status:      domain.StatusPending,
		ReporterID:  strings.TrimSpace(rec.ReporterID),
		CreatedAt:   created,
	}, nil
}

// WorkersAt validates the registry entries. Missing caps take defaultCap.
func (in Intake) WorkersAt(now time.Time, defaultCap int) ([]domain.Worker, error) {
	out := make([]domain.Worker, 0, len(in.Workers))
	for i, rec := range in.Workers {
		w, err := rec.toWorker(now, defaultCap)
		if err != nil {
			return nil, RecordError{Kind: "worker", Index: i, Err: err}
		}
		out = append(out, w)
	}
	return out, nil
}

func (rec WorkerRecord) toWorker(now time.Time, defaultCap int) (domain.Worker, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return domain.Worker{}, errors.New("id required")
	}
	district, err := domain.ParseDistrict(rec.District)
	if err != nil {
		return domain.Worker{}, err
	}
	dept, err := domain.ParseDepartment(rec.Department)
	if err != nil {
		return domain.Worker{}, err
	}
	dailyCap := rec.DailyCap
	if dailyCap == 0 {
		dailyCap = defaultCap
	}
	if dailyCap < 1 {
		return domain.Worker{}, fmt.Errorf("daily_cap must be >= 1, got %d", dailyCap)
	}
	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	if rec.LifetimeTasks < 0 {
		return domain.Worker{}, fmt.Errorf("lifetime_task_count must be >= 0, got %d", rec.LifetimeTasks)
	}
	return domain.Worker{
		ID:                id,
		Name:              strings.TrimSpace(rec.Name),
		District:          district,
		Department:        dept,
		Active:            active,
		DailyCap:          dailyCap,
		LifetimeTaskCount: rec.LifetimeTasks,
		CreatedAt:         now.UTC().Format(time.RFC3339),
	}, nil
}

// ImportReports stores new reports in one transaction. Reports already known by id
// are skipped, never overwritten. A failed write leaves nothing behind.
func ImportReports(ctx context.Context, r repo.Repo, reports []domain.Report) (inserted, skipped int, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()
	for _, rep := range reports {
		if _, err := r.GetReportTx(ctx, tx, rep.ID); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return 0, 0, err
		}
		if err := r.InsertReportTx(ctx, tx, rep); err != nil {
			return 0, 0, fmt.Errorf("insert report %s: %w", rep.ID, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, skipped, nil
}

// ImportWorkers upserts registry entries in one transaction; live counters are preserved.
func ImportWorkers(ctx context.Context, r repo.Repo, workers []domain.Worker) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, w := range workers {
		if err := r.UpsertWorkerTx(ctx, tx, w); err != nil {
			return 0, fmt.Errorf("upsert worker %s: %w", w.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(workers), nil
}

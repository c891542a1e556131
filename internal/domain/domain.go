package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProblemType = errors.New("unknown problem type")
	ErrUnknownDistrict    = errors.New("unknown district")
	ErrUnknownStatus      = errors.New("unknown report status")
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusVerified  Status = "verified"
	StatusRejected  Status = "rejected"
)

var statuses = []Status{StatusPending, StatusAssigned, StatusCompleted, StatusVerified, StatusRejected}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// ProblemType is the closed set of report categories.
type ProblemType string

const (
	Pothole     ProblemType = "Pothole"
	StreetLight ProblemType = "StreetLight"
	Water       ProblemType = "Water"
	Garbage     ProblemType = "Garbage"
	Drainage    ProblemType = "Drainage"
	Electrical  ProblemType = "Electrical"
	Park        ProblemType = "Park"
	Other       ProblemType = "Other"
)

// ProblemTypes lists every problem type in declaration order.
var ProblemTypes = []ProblemType{Pothole, StreetLight, Water, Garbage, Drainage, Electrical, Park, Other}

// ParseProblemType accepts the canonical name case-insensitively.
func ParseProblemType(s string) (ProblemType, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
	for _, pt := range ProblemTypes {
		if strings.ToLower(string(pt)) == key {
			return pt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProblemType, s)
}

// Department owns a set of problem types.
type Department string

const (
	DeptRoads       Department = "Roads"
	DeptElectrical  Department = "Electrical"
	DeptWater       Department = "Water"
	DeptSanitation  Department = "Sanitation"
	DeptParks       Department = "Parks"
	DeptPublicWorks Department = "PublicWorks"
)

var Departments = []Department{DeptRoads, DeptElectrical, DeptWater, DeptSanitation, DeptParks, DeptPublicWorks}

var departmentByProblem = map[ProblemType]Department{
	Pothole:     DeptRoads,
	StreetLight: DeptElectrical,
	Electrical:  DeptElectrical,
	Water:       DeptWater,
	Drainage:    DeptSanitation,
	Garbage:     DeptSanitation,
	Park:        DeptParks,
	Other:       DeptPublicWorks,
}

// DepartmentFor returns the department serving a problem type.
func DepartmentFor(pt ProblemType) Department {
	return departmentByProblem[pt]
}

// Serves reports whether d handles problem type pt.
func (d Department) Serves(pt ProblemType) bool {
	return departmentByProblem[pt] == d
}

func ParseDepartment(s string) (Department, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
	for _, d := range Departments {
		if strings.ToLower(string(d)) == key {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown department %q", s)
}

type Report struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description,omitempty"`
	ProblemType      ProblemType `json:"problem_type"`
	District         District    `json:"district"`
	Latitude         float64     `json:"latitude"`
	Longitude        float64     `json:"longitude"`
	Status           Status      `json:"status" enum:"pending,assigned,completed,verified,rejected"`
	Priority         float64     `json:"priority"`
	ReporterID       string      `json:"reporter_id,omitempty"`
	AssignedWorkerID *string     `json:"assigned_worker_id,omitempty"`
	AssignedAt       *string     `json:"assigned_at,omitempty" format:"date-time"`
	CompletionLat    *float64    `json:"completion_latitude,omitempty"`
	CompletionLon    *float64    `json:"completion_longitude,omitempty"`
	CompletedAt      *string     `json:"completed_at,omitempty" format:"date-time"`
	ProofPhotoRef    *string     `json:"proof_photo_ref,omitempty"`
	VerifiedAt       *string     `json:"verified_at,omitempty" format:"date-time"`
	RejectionReason  *string     `json:"rejection_reason,omitempty"`
	CreatedAt        string      `json:"created_at" format:"date-time"`
	UpdatedAt        string      `json:"updated_at" format:"date-time"`
}

// Open reports still need work from a field worker.
func (r Report) Open() bool {
	return r.Status == StatusPending || r.Status == StatusAssigned
}

type Worker struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	District          District   `json:"district"`
	Department        Department `json:"department"`
	Active            bool       `json:"active"`
	DailyTaskCount    int        `json:"daily_task_count"`
	DailyCap          int        `json:"daily_cap"`
	LifetimeTaskCount int        `json:"lifetime_task_count"`
	LastResetOn       *string    `json:"last_reset_on,omitempty"`
	CreatedAt         string     `json:"created_at" format:"date-time"`
}

// HasCapacity reports whether the worker can take one more task today.
func (w Worker) HasCapacity() bool {
	return w.DailyTaskCount < w.DailyCap
}

type Assignment struct {
	ID         string  `json:"id"`
	ReportID   string  `json:"report_id"`
	WorkerID   string  `json:"worker_id"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
	Priority   float64 `json:"priority"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Package auth holds the role rules for report actions. Identities come from the
// external session layer; this package only decides what an identity may do.
package auth

import (
	"fmt"
	"slices"

	"civicops/internal/domain"
)

const (
	RoleWorker  = "worker"
	RoleCitizen = "citizen"
	RoleAdmin   = "admin"
)

// Actor is an authenticated caller.
type Actor struct {
	ID    string
	Roles []string
}

// System is the actor used by background jobs and the local CLI.
func System(id string) Actor {
	if id == "" {
		id = "system"
	}
	return Actor{ID: id, Roles: []string{RoleAdmin}}
}

func (a Actor) Has(role string) bool {
	return slices.Contains(a.Roles, role)
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Action string
	Role   string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("not allowed to %s", e.Action)
	}
	return fmt.Sprintf("role %s required to %s", e.Role, e.Action)
}

// RequireRole fails unless a holds role or is an admin.
func RequireRole(a Actor, role, action string) error {
	if a.Has(role) || a.Has(RoleAdmin) {
		return nil
	}
	return ForbiddenError{Action: action, Role: role}
}

// CanVerify allows the citizen who filed the report, or an admin.
func CanVerify(a Actor, r domain.Report) error {
	if a.Has(RoleAdmin) {
		return nil
	}
	if r.ReporterID != "" && a.ID == r.ReporterID {
		return nil
	}
	return ForbiddenError{Action: "verify a report filed by someone else"}
}

// CanReject is reserved for moderators.
func CanReject(a Actor) error {
	return RequireRole(a, RoleAdmin, "reject reports")
}

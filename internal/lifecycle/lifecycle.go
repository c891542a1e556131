// Package lifecycle defines the legal report status transitions.
// Both the assignment scheduler and the completion verifier go through CanTransition
// before writing a new status.
package lifecycle

import (
	"fmt"

	"civicops/internal/domain"
)

// TransitionError reports an illegal status change.
type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid report status transition %s -> %s", e.From, e.To)
}

var edges = map[domain.Status][]domain.Status{
	domain.StatusPending:   {domain.StatusAssigned, domain.StatusRejected},
	domain.StatusAssigned:  {domain.StatusCompleted, domain.StatusRejected},
	domain.StatusCompleted: {domain.StatusVerified, domain.StatusRejected},
}

// CanTransition returns nil when from -> to is a legal move.
func CanTransition(from, to domain.Status) error {
	for _, next := range edges[from] {
		if next == to {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

// Next lists the states reachable in one step from s.
func Next(s domain.Status) []domain.Status {
	out := make([]domain.Status, len(edges[s]))
	copy(out, edges[s])
	return out
}

// IsTerminal reports whether reports in s are archived.
func IsTerminal(s domain.Status) bool {
	return s == domain.StatusVerified || s == domain.StatusRejected
}

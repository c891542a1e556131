// Package selector picks the field worker for a report.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"civicops/internal/domain"
)

// Filter names the eligibility rule that removed a candidate.
type Filter string

const (
	FilterInactive   Filter = "inactive"
	FilterDistrict   Filter = "district"
	FilterDepartment Filter = "department"
	FilterCapacity   Filter = "capacity"
)

var filterOrder = []Filter{FilterInactive, FilterDistrict, FilterDepartment, FilterCapacity}

// Eligible returns the first filter w fails for r, or "" when w may take r.
func Eligible(r domain.Report, w domain.Worker) Filter {
	switch {
	case !w.Active:
		return FilterInactive
	case w.District != r.District:
		return FilterDistrict
	case !w.Department.Serves(r.ProblemType):
		return FilterDepartment
	case !w.HasCapacity():
		return FilterCapacity
	}
	return ""
}

// Less orders eligible workers: fewest tasks today, then fewest tasks overall, then id.
func Less(a, b domain.Worker) bool {
	if a.DailyTaskCount != b.DailyTaskCount {
		return a.DailyTaskCount < b.DailyTaskCount
	}
	if a.LifetimeTaskCount != b.LifetimeTaskCount {
		return a.LifetimeTaskCount < b.LifetimeTaskCount
	}
	return a.ID < b.ID
}

// Select returns the best eligible worker. ok is false when nobody qualifies,
// which is a normal outcome and leaves the report pending.
func Select(r domain.Report, pool []domain.Worker) (domain.Worker, bool) {
	var best domain.Worker
	found := false
	for _, w := range pool {
		if Eligible(r, w) != "" {
			continue
		}
		if !found || Less(w, best) {
			best = w
			found = true
		}
	}
	return best, found
}

// Candidates returns every eligible worker in selection order.
func Candidates(r domain.Report, pool []domain.Worker) []domain.Worker {
	var out []domain.Worker
	for _, w := range pool {
		if Eligible(r, w) == "" {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Explain summarises why no worker was found, e.g. "4 workers: district=2 capacity=2".
func Explain(r domain.Report, pool []domain.Worker) string {
	counts := map[Filter]int{}
	eligible := 0
	for _, w := range pool {
		f := Eligible(r, w)
		if f == "" {
			eligible++
			continue
		}
		counts[f]++
	}
	parts := []string{fmt.Sprintf("%d workers", len(pool))}
	for _, f := range filterOrder {
		if counts[f] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", f, counts[f]))
		}
	}
	if eligible > 0 {
		parts = append(parts, fmt.Sprintf("eligible=%d", eligible))
	}
	return strings.Join(parts, " ")
}

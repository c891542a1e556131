package priority

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"civicops/internal/config"
	"civicops/internal/domain"
	"civicops/internal/geo"
)

const (
	baseLat = 29.3909
	baseLon = 76.9635
)

func report(id string, pt domain.ProblemType, northMeters float64, created string) domain.Report {
	return domain.Report{
		ID:          id,
		ProblemType: pt,
		District:    "Panipat",
		Latitude:    geo.OffsetNorth(baseLat, northMeters),
		Longitude:   baseLon,
		Status:      domain.StatusPending,
		CreatedAt:   created,
	}
}

func ids(items []Scored) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Report.ID)
	}
	return out
}

func TestScoreBounds(t *testing.T) {
	s := FromConfig(config.Default())
	r := report("r1", domain.Water, 0, "2024-01-01T00:00:00Z")
	if got := s.Score(r, 0, 0); math.Abs(got-0.4*0.9) > 1e-9 {
		t.Fatalf("urgency-only score = %v", got)
	}
	if got := s.Score(r, 5, 5); math.Abs(got-(0.6+0.36)) > 1e-9 {
		t.Fatalf("max density score = %v", got)
	}
	if got := s.Score(r, 9, 5); got > 1 {
		t.Fatalf("score must be clamped, got %v", got)
	}
	other := report("r2", domain.ProblemType("Unknown"), 0, "2024-01-01T00:00:00Z")
	if got := s.Score(other, 0, 0); got != 0 {
		t.Fatalf("unknown type should have zero urgency, got %v", got)
	}
}

func TestDensityIgnoresFarClosedAndOtherDistricts(t *testing.T) {
	s := FromConfig(config.Default())
	r := report("r1", domain.Pothole, 0, "2024-01-01T00:00:00Z")
	near := report("near", domain.Garbage, 300, "2024-01-01T00:00:00Z")
	assigned := report("assigned", domain.Garbage, 900, "2024-01-01T00:00:00Z")
	assigned.Status = domain.StatusAssigned
	far := report("far", domain.Garbage, 1500, "2024-01-01T00:00:00Z")
	done := report("done", domain.Garbage, 100, "2024-01-01T00:00:00Z")
	done.Status = domain.StatusCompleted
	elsewhere := report("elsewhere", domain.Garbage, 10, "2024-01-01T00:00:00Z")
	elsewhere.District = "Karnal"

	got := s.Density(r, []domain.Report{r, near, assigned, far, done, elsewhere})
	if got != 2 {
		t.Fatalf("density = %d, want 2", got)
	}
}

func TestScoreAllOrdersByDensityThenFIFO(t *testing.T) {
	s := FromConfig(config.Default())
	// dense cluster around 0 m, isolated report 5 km away with identical urgency
	a := report("a", domain.Pothole, 0, "2024-01-01T10:00:00Z")
	b := report("b", domain.Pothole, 200, "2024-01-01T09:00:00Z")
	c := report("c", domain.Pothole, 400, "2024-01-01T11:00:00Z")
	lonely := report("lonely", domain.Pothole, 5000, "2024-01-01T08:00:00Z")
	pending := []domain.Report{lonely, a, b, c}

	ranked := s.ScoreAll(pending, pending)
	// cluster members tie on density and fall back to FIFO.
	want := []string{"b", "a", "c", "lonely"}
	if diff := cmp.Diff(want, ids(ranked)); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
	if ranked[3].Density != 0 {
		t.Fatalf("lonely density = %d", ranked[3].Density)
	}
	for _, it := range ranked {
		if it.Score < 0 || it.Score > 1 {
			t.Fatalf("score out of range: %v", it.Score)
		}
	}
}

func TestUrgencyBreaksEqualDensity(t *testing.T) {
	s := FromConfig(config.Default())
	water := report("water", domain.Water, 0, "2024-01-02T00:00:00Z")
	park := report("park", domain.Park, 10000, "2024-01-01T00:00:00Z")
	other := report("other", domain.Other, 20000, "2023-12-31T00:00:00Z")
	ranked := s.ScoreAll([]domain.Report{other, park, water}, []domain.Report{other, park, water})
	if diff := cmp.Diff([]string{"water", "park", "other"}, ids(ranked)); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
}

func TestLessTieBreaksOnID(t *testing.T) {
	x := Scored{Report: domain.Report{ID: "x", CreatedAt: "2024-01-01T00:00:00Z"}, Score: 0.5}
	y := Scored{Report: domain.Report{ID: "y", CreatedAt: "2024-01-01T00:00:00Z"}, Score: 0.5}
	if !Less(x, y) || Less(y, x) {
		t.Fatalf("expected id tie-break")
	}
}

func TestLessOrdersCreationByInstant(t *testing.T) {
	// 09:00 in India is 03:30 UTC, earlier than 04:00 UTC
	early := Scored{Report: domain.Report{ID: "early", CreatedAt: "2024-03-01T09:00:00+05:30"}, Score: 0.5}
	later := Scored{Report: domain.Report{ID: "later", CreatedAt: "2024-03-01T04:00:00Z"}, Score: 0.5}
	items := []Scored{later, early}
	Rank(items)
	if diff := cmp.Diff([]string{"early", "later"}, ids(items)); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}

	same := Scored{Report: domain.Report{ID: "a", CreatedAt: "2024-03-01T03:30:00Z"}, Score: 0.5}
	if !Less(same, early) || Less(early, same) {
		t.Fatalf("equal instants must fall back to id order")
	}
}

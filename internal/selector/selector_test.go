package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicops/internal/domain"
)

func worker(id string, mut func(*domain.Worker)) domain.Worker {
	w := domain.Worker{
		ID:         id,
		District:   "Karnal",
		Department: domain.DeptRoads,
		Active:     true,
		DailyCap:   3,
	}
	if mut != nil {
		mut(&w)
	}
	return w
}

var pothole = domain.Report{ID: "r1", ProblemType: domain.Pothole, District: "Karnal"}

func TestEligibleFiltersInOrder(t *testing.T) {
	cases := []struct {
		name string
		w    domain.Worker
		want Filter
	}{
		{"ok", worker("w", nil), ""},
		{"inactive", worker("w", func(w *domain.Worker) { w.Active = false; w.District = "Hisar" }), FilterInactive},
		{"district", worker("w", func(w *domain.Worker) { w.District = "Hisar" }), FilterDistrict},
		{"department", worker("w", func(w *domain.Worker) { w.Department = domain.DeptWater }), FilterDepartment},
		{"capacity", worker("w", func(w *domain.Worker) { w.DailyTaskCount = 3 }), FilterCapacity},
		{"custom cap", worker("w", func(w *domain.Worker) { w.DailyCap = 5; w.DailyTaskCount = 4 }), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eligible(pothole, tc.w))
		})
	}
}

func TestSelectPrefersLeastLoaded(t *testing.T) {
	pool := []domain.Worker{
		worker("c", func(w *domain.Worker) { w.DailyTaskCount = 1 }),
		worker("b", func(w *domain.Worker) { w.LifetimeTaskCount = 40 }),
		worker("a", func(w *domain.Worker) { w.LifetimeTaskCount = 40 }),
		worker("d", func(w *domain.Worker) { w.LifetimeTaskCount = 90 }),
	}
	got, ok := Select(pothole, pool)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	ordered := Candidates(pothole, pool)
	var ids []string
	for _, w := range ordered {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, ids)
}

func TestSelectNotFound(t *testing.T) {
	pool := []domain.Worker{
		worker("x", func(w *domain.Worker) { w.District = "Hisar" }),
		worker("y", func(w *domain.Worker) { w.DailyTaskCount = 3 }),
		worker("z", func(w *domain.Worker) { w.DailyTaskCount = 3 }),
	}
	_, ok := Select(pothole, pool)
	assert.False(t, ok)
	assert.Equal(t, "3 workers district=1 capacity=2", Explain(pothole, pool))

	_, ok = Select(pothole, nil)
	assert.False(t, ok)
}

// Package priority orders competing pending reports.
//
// score = Wd * density/maxDensity(district) + Wu * urgency(problemType)
//
// density counts the other open reports within the configured radius in the same
// district. Ranking is score descending, then creation time ascending, then id.
package priority

import (
	"sort"
	"strings"
	"time"

	"civicops/internal/config"
	"civicops/internal/domain"
	"civicops/internal/geo"
)

type Weights struct {
	Density float64
	Urgency float64
}

type Scorer struct {
	Weights      Weights
	Urgency      map[domain.ProblemType]float64
	RadiusMeters float64
}

// Scored is a pending report with its freshly computed score.
type Scored struct {
	Report  domain.Report
	Density int
	Score   float64
}

// FromConfig builds a scorer from the priority policy.
func FromConfig(cfg *config.Config) Scorer {
	return Scorer{
		Weights: Weights{
			Density: cfg.Priority.DensityWeight,
			Urgency: cfg.Priority.UrgencyWeight,
		},
		Urgency:      cfg.UrgencyTable(),
		RadiusMeters: cfg.Priority.DensityRadiusMeters,
	}
}

// Score combines density and urgency into a value within [0,1].
func (s Scorer) Score(r domain.Report, density, maxDensity int) float64 {
	norm := 0.0
	if maxDensity > 0 {
		norm = float64(density) / float64(maxDensity)
		if norm > 1 {
			norm = 1
		}
	}
	score := s.Weights.Density*norm + s.Weights.Urgency*s.urgency(r.ProblemType)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (s Scorer) urgency(pt domain.ProblemType) float64 {
	u, ok := s.Urgency[pt]
	if !ok {
		return 0
	}
	return u
}

// Density counts reports in open (other than r itself) that lie within the radius and district of r.
func (s Scorer) Density(r domain.Report, open []domain.Report) int {
	n := 0
	for _, o := range open {
		if o.ID == r.ID || o.District != r.District || !o.Open() {
			continue
		}
		if geo.Distance(r.Latitude, r.Longitude, o.Latitude, o.Longitude) <= s.RadiusMeters {
			n++
		}
	}
	return n
}

// ScoreAll scores every pending report against the current open set and returns them ranked.
func (s Scorer) ScoreAll(pending, open []domain.Report) []Scored {
	out := make([]Scored, 0, len(pending))
	maxByDistrict := map[domain.District]int{}
	for _, r := range pending {
		d := s.Density(r, open)
		out = append(out, Scored{Report: r, Density: d})
		if d > maxByDistrict[r.District] {
			maxByDistrict[r.District] = d
		}
	}
	for i := range out {
		out[i].Score = s.Score(out[i].Report, out[i].Density, maxByDistrict[out[i].Report.District])
	}
	Rank(out)
	return out
}

// Rank sorts in assignment order.
func Rank(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i], items[j])
	})
}

// Less reports whether a should be assigned before b.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if c := compareCreated(a.Report.CreatedAt, b.Report.CreatedAt); c != 0 {
		return c < 0
	}
	return a.Report.ID < b.Report.ID
}

// compareCreated orders creation timestamps by instant, whatever their offset.
// Unparseable values fall back to text order.
func compareCreated(a, b string) int {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ta.Compare(tb)
}

package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{name: "same point", lat1: 30.3782, lon1: 76.7767, lat2: 30.3782, lon2: 76.7767, want: 0, tolerance: 1e-9},
		// one degree of latitude on the 6371 km sphere
		{name: "one degree north", lat1: 0, lon1: 0, lat2: 1, lon2: 0, want: 111194.93, tolerance: 0.5},
		// Ambala to Kurukshetra city centres, roughly 46 km
		{name: "ambala kurukshetra", lat1: 30.3782, lon1: 76.7767, lat2: 29.9695, lon2: 76.8783, want: 46480, tolerance: 500},
		{name: "symmetric", lat1: 29.9695, lon1: 76.8783, lat2: 30.3782, lon2: 76.7767, want: 46480, tolerance: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Fatalf("Distance = %.2f, want %.2f ± %.2f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestOffsetNorthRoundTrip(t *testing.T) {
	for _, m := range []float64{1, 100, 500, 600, 4999} {
		lat := OffsetNorth(28.4595, m)
		got := Distance(28.4595, 77.0266, lat, 77.0266)
		if math.Abs(got-m) > 1e-6 {
			t.Fatalf("offset %v m measured as %v", m, got)
		}
	}
}

func TestShortDistanceAccuracy(t *testing.T) {
	// 0.01 degree of longitude at the equator is ~1111.95 m on the sphere
	got := Distance(0, 0, 0, 0.01)
	if math.Abs(got-1111.95) > 11 {
		t.Fatalf("got %.2f", got)
	}
}

func TestValidateCoordinates(t *testing.T) {
	if err := ValidateCoordinates(28.6, 77.2); err != nil {
		t.Fatalf("valid coordinates rejected: %v", err)
	}
	for _, c := range [][2]float64{{91, 0}, {-90.5, 0}, {0, 181}, {0, -180.01}, {math.NaN(), 0}, {0, math.Inf(1)}} {
		if err := ValidateCoordinates(c[0], c[1]); !errors.Is(err, ErrInvalidCoordinates) {
			t.Fatalf("expected ErrInvalidCoordinates for %v, got %v", c, err)
		}
	}
}

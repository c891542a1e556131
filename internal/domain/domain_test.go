package domain

import (
	"errors"
	"testing"
)

func TestEveryProblemTypeHasDepartment(t *testing.T) {
	for _, pt := range ProblemTypes {
		d := DepartmentFor(pt)
		if d == "" {
			t.Fatalf("problem type %s has no department", pt)
		}
		if !d.Serves(pt) {
			t.Fatalf("department %s should serve %s", d, pt)
		}
	}
	if DeptRoads.Serves(Water) {
		t.Fatalf("roads must not serve water")
	}
}

func TestParseProblemType(t *testing.T) {
	cases := map[string]ProblemType{
		"pothole":      Pothole,
		"Street Light": StreetLight,
		" water ":      Water,
		"OTHER":        Other,
	}
	for in, want := range cases {
		got, err := ParseProblemType(in)
		if err != nil || got != want {
			t.Fatalf("ParseProblemType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseProblemType("sewage"); !errors.Is(err, ErrUnknownProblemType) {
		t.Fatalf("expected ErrUnknownProblemType, got %v", err)
	}
}

func TestDistricts(t *testing.T) {
	if len(Districts) != 22 {
		t.Fatalf("expected 22 districts, got %d", len(Districts))
	}
	d, err := ParseDistrict("charkhi dadri")
	if err != nil || d != "Charkhi Dadri" {
		t.Fatalf("parse district: %q %v", d, err)
	}
	if _, err := ParseDistrict("Atlantis"); !errors.Is(err, ErrUnknownDistrict) {
		t.Fatalf("expected ErrUnknownDistrict, got %v", err)
	}
}

package calibration

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const countsPerDegree = 10 * 1024.0 / 360

func TestLinear(t *testing.T) {
	got := Linear(4, 10, countsPerDegree, 15)
	want := Table{Step: 10, Values: []int32{-427, -142, 142, 427}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Linear: want(-)/got(+):\n%s", diff)
	}
}

func TestDegrees(t *testing.T) {
	table := Linear(35, 10, countsPerDegree, 0)
	for _, test := range []struct {
		name  string
		count float64
		want  float64
	}{
		{"origin", 0, 0},
		{"entry", 284, 10},
		{"midpoint", 142, 5},
		{"below table", -284, -10},
		{"above table", 9671 + 284, 350},
		{"last entry", 9671, 340},
	} {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.want, table.Degrees(test.count), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("Degrees(%v): want(-)/got(+):\n%s", test.count, diff)
			}
		})
	}
}

func TestDegreesDegenerate(t *testing.T) {
	table := Table{Step: 10, Values: []int32{0, 0, 100}}
	if got := table.Degrees(0); got != 0 {
		t.Errorf("Degrees on equal bracket = %v, want lower angle 0", got)
	}
	if got := table.Degrees(50); got != 15 {
		t.Errorf("Degrees(50) = %v, want 15", got)
	}
}

func TestDegreesContinuous(t *testing.T) {
	table := Linear(10, 10, countsPerDegree, -3)
	prev := table.Degrees(-1000)
	for c := -999.0; c < 4000; c++ {
		d := table.Degrees(c)
		if d <= prev || d-prev > 0.1 {
			t.Fatalf("Degrees not continuous and increasing at %v: %v -> %v", c, prev, d)
		}
		prev = d
	}
}

func TestIndex(t *testing.T) {
	table := Linear(35, 10, countsPerDegree, 0)
	for _, test := range []struct {
		deg  float64
		want int
	}{
		{4.9, 0},
		{5, 1},
		{123.5, 12},
		{344, 34},
		{400, 34},
		{-20, 0},
	} {
		if got := table.Index(test.deg); got != test.want {
			t.Errorf("Index(%v) = %d, want %d", test.deg, got, test.want)
		}
	}
}

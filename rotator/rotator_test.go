package rotator

import (
	"testing"
)

func TestAddOffset(t *testing.T) {
	for _, test := range []struct {
		angle, offset, want float64
	}{
		{10, 5, 15},
		{355, 10, 5},
		{5, -10, 355},
		{0, 0, 0},
		{360, 0, 0},
		{-720, 0, 0},
		{359.9, 0, 359.9},
	} {
		if got := AddOffset(test.angle, test.offset); got < test.want-1e-9 || got > test.want+1e-9 {
			t.Errorf("AddOffset(%v, %v) = %v, want %v", test.angle, test.offset, got, test.want)
		}
	}
}

func TestRangeNormalize(t *testing.T) {
	az := Range{Wrap: true, SnapAbove: 359.5}
	el := Range{Min: -15, Max: 95}
	for _, test := range []struct {
		name string
		r    Range
		in   float64
		want float64
	}{
		{"az wraps up", az, 361, 1},
		{"az wraps down", az, -1, 359},
		{"az snaps", az, 359.7, 0},
		{"az below snap", az, 359.4, 359.4},
		{"el clamp low", el, -20, -15},
		{"el clamp high", el, 100, 95},
		{"el inside", el, 45, 45},
		{"unbounded", Range{}, 500, 500},
	} {
		t.Run(test.name, func(t *testing.T) {
			got := test.r.Normalize(test.in)
			if got < test.want-1e-9 || got > test.want+1e-9 {
				t.Errorf("Normalize(%v) = %v, want %v", test.in, got, test.want)
			}
		})
	}
}

func TestDirectionNames(t *testing.T) {
	for _, a := range Axes {
		for _, d := range []Direction{Positive, Negative} {
			gotAxis, gotDir, ok := ParseDirection(d.Name(a))
			if !ok || gotAxis != a || gotDir != d {
				t.Errorf("ParseDirection(%q) = %v, %v, %v; want %v, %v", d.Name(a), gotAxis, gotDir, ok, a, d)
			}
		}
	}
}

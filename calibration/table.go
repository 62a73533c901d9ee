package calibration

import "math"

// Table maps accumulated sensor counts to degrees. Entry i holds the count
// observed at i*Step degrees.
type Table struct {
	Step   float64
	Values []int32
}

// Linear returns the theoretical table for a sensor producing
// countsPerDegree counts per antenna degree, with reference degrees at count 0.
func Linear(points int, step, countsPerDegree, reference float64) Table {
	t := Table{Step: step, Values: make([]int32, points)}
	for i := range t.Values {
		t.Values[i] = int32(math.Round((float64(i)*step - reference) * countsPerDegree))
	}
	return t
}

func (t Table) Len() int { return len(t.Values) }

// Angle returns the nominal angle of entry i.
func (t Table) Angle(i int) float64 {
	return float64(i) * t.Step
}

// Index returns the entry nearest to deg, clamped to the table.
func (t Table) Index(deg float64) int {
	i := int(math.Floor((deg + t.Step/2) / t.Step))
	if i < 0 {
		return 0
	}
	if i >= len(t.Values) {
		return len(t.Values) - 1
	}
	return i
}

// Degrees interpolates count between the first bracketing pair of entries, or
// extrapolates from the nearest end pair when count is outside the table.
func (t Table) Degrees(count float64) float64 {
	n := len(t.Values)
	if n < 2 {
		return 0
	}
	lo := -1
	for i := 0; i < n-1; i++ {
		if a, b := float64(t.Values[i]), float64(t.Values[i+1]); count >= a && count <= b {
			lo = i
			break
		}
	}
	if lo < 0 {
		lo = 0
		if count >= float64(t.Values[0]) && count > float64(t.Values[n-1]) {
			lo = n - 2
		}
	}
	a, b := float64(t.Values[lo]), float64(t.Values[lo+1])
	if a == b {
		return t.Angle(lo)
	}
	return t.Angle(lo) + (count-a)*t.Step/(b-a)
}

func (t Table) Clone() Table {
	return Table{Step: t.Step, Values: append([]int32(nil), t.Values...)}
}

package rotator

import "math"

// AddOffset adds offset to angle and wraps the result into [0, 360).
func AddOffset(angle, offset float64) float64 {
	angle = math.Mod(angle+offset, 360)
	if angle < 0 {
		angle += 360
	}
	if angle >= 360 {
		angle -= 360
	}
	return angle
}

// Range is the canonical span an axis reports angles in.
type Range struct {
	// Wrap axes report [0, 360); others are clamped to [Min, Max].
	Wrap     bool
	Min, Max float64
	// SnapAbove, when non-zero on a wrapping axis, maps readings above it to 0.
	SnapAbove float64
}

// Normalize maps an unwrapped angle into the range.
func (r Range) Normalize(angle float64) float64 {
	if r.Wrap {
		angle = AddOffset(angle, 0)
		if r.SnapAbove > 0 && angle > r.SnapAbove {
			angle = 0
		}
		return angle
	}
	if r.Max > r.Min {
		if angle < r.Min {
			return r.Min
		}
		if angle > r.Max {
			return r.Max
		}
	}
	return angle
}

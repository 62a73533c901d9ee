package rotator

import "fmt"

// Rotator is anything that can be pointed: the local controller, or a remote
// controller reached over Easycom.
type Rotator interface {
	Stop()
	SetAzimuthPosition(angle float64)
	SetElevationPosition(angle float64)
}

// Axis identifies one of the two mount axes.
type Axis int

const (
	Azimuth Axis = iota
	Elevation
)

// Axes lists both axes in index order.
var Axes = [2]Axis{Azimuth, Elevation}

func (a Axis) String() string {
	switch a {
	case Azimuth:
		return "AZ"
	case Elevation:
		return "EL"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Direction of travel. Positive is clockwise in azimuth and up in elevation.
type Direction int

const (
	Negative Direction = -1
	Still    Direction = 0
	Positive Direction = 1
)

// Sign returns the direction needed to reduce a signed error.
func Sign(err float64) Direction {
	switch {
	case err > 0:
		return Positive
	case err < 0:
		return Negative
	}
	return Still
}

// Name returns the limit-switch name of a direction on an axis (CW, CCW, UP, DOWN).
func (d Direction) Name(a Axis) string {
	switch {
	case a == Azimuth && d == Positive:
		return "CW"
	case a == Azimuth && d == Negative:
		return "CCW"
	case a == Elevation && d == Positive:
		return "UP"
	case a == Elevation && d == Negative:
		return "DOWN"
	}
	return "STOP"
}

// ParseDirection is the inverse of Direction.Name.
func ParseDirection(name string) (Axis, Direction, bool) {
	switch name {
	case "CW":
		return Azimuth, Positive, true
	case "CCW":
		return Azimuth, Negative, true
	case "UP":
		return Elevation, Positive, true
	case "DOWN", "DN":
		return Elevation, Negative, true
	}
	return 0, Still, false
}

type StatusCallback func(status Status)

// Status is a read-only snapshot of the controller.
type Status struct {
	AzPos float64 `json:"az_pos"`
	ElPos float64 `json:"el_pos"`

	// Command positions are only meaningful while the matching Tracking flag is set.
	CommandAzPos float64 `json:"command_az_pos"`
	CommandElPos float64 `json:"command_el_pos"`
	AzTracking   bool    `json:"az_tracking"`
	ElTracking   bool    `json:"el_tracking"`

	AzState string `json:"az_state"`
	ElState string `json:"el_state"`

	RawAz int `json:"raw_az"`
	RawEl int `json:"raw_el"`

	AzimuthCW      bool `json:"azimuth_cw"`
	AzimuthCCW     bool `json:"azimuth_ccw"`
	ElevationUpper bool `json:"elevation_upper"`
	ElevationLower bool `json:"elevation_lower"`

	// Delegated is set when motors are driven by a secondary controller.
	Delegated   bool `json:"delegated"`
	LinkHealthy bool `json:"link_healthy"`

	ClientConnected bool `json:"client_connected"`

	DisplayOffset        float64 `json:"display_offset"`
	DisplayOffsetEnabled bool    `json:"display_offset_enabled"`
}

// Position returns the current angle of an axis.
func (s Status) Position(a Axis) float64 {
	if a == Elevation {
		return s.ElPos
	}
	return s.AzPos
}

// Moving reports whether either axis has an active target.
func (s Status) Moving() bool {
	return s.AzTracking || s.ElTracking
}

// Limit reports whether the limit for the given travel direction is tripped.
func (s Status) Limit(a Axis, d Direction) bool {
	switch {
	case a == Azimuth && d == Positive:
		return s.AzimuthCW
	case a == Azimuth && d == Negative:
		return s.AzimuthCCW
	case a == Elevation && d == Positive:
		return s.ElevationUpper
	case a == Elevation && d == Negative:
		return s.ElevationLower
	}
	return false
}

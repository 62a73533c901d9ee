// Package motion drives both axes toward their targets: it computes the
// shortest error, picks a speed tier, and hands a per-tick plan to a driver
// that either pulses the steppers directly or delegates to a secondary
// controller.
package motion

import (
	"log"
	"math"

	"github.com/w1xm/eme_rotator/rotator"
	"github.com/w1xm/eme_rotator/safety"
)

// ComputeError returns the signed angle from current to target. On wrapping
// axes it is the shortest way round, in [-180, 180].
func ComputeError(target, current float64, wrap bool) float64 {
	err := target - current
	if wrap {
		err = math.Remainder(err, 360)
	}
	return err
}

type Tier int

const (
	Slow Tier = iota
	Fast
	Manual
)

type State int

const (
	Idle State = iota
	SeekingFast
	SeekingSlow
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case SeekingFast:
		return "SEEKING_FAST"
	case SeekingSlow:
		return "SEEKING_SLOW"
	}
	return "UNKNOWN"
}

type AxisConfig struct {
	Wrap bool
	// Tolerance is the error at or below which the target is reached.
	Tolerance float64
	// SwitchThreshold is the error above which the fast tier is used.
	SwitchThreshold float64
}

// AxisPlan is what one axis should do during a control tick.
type AxisPlan struct {
	Direction rotator.Direction
	Tier      Tier
	Error     float64
}

type Plan [2]AxisPlan

// Driver executes plans on the motors.
type Driver interface {
	// Drive moves the axes for one control tick.
	Drive(p Plan) error
	// Halt commands zero motion on both axes.
	Halt() error
	// Jog starts manual motion of an axis, or ends it when d is Still.
	Jog(a rotator.Axis, d rotator.Direction) error
}

type command struct {
	target float64
	active bool
}

// Controller holds the target of each axis and runs the per-axis state
// machine. It is owned by the control loop and not safe for concurrent use.
type Controller struct {
	Axes   [2]AxisConfig
	Driver Driver
	Logf   func(format string, v ...interface{})

	cmds   [2]command
	states [2]State
}

func NewController(az, el AxisConfig, d Driver) *Controller {
	return &Controller{
		Axes:   [2]AxisConfig{az, el},
		Driver: d,
		Logf:   log.Printf,
	}
}

func (c *Controller) SetTarget(a rotator.Axis, deg float64) {
	c.cmds[a] = command{target: deg, active: true}
}

func (c *Controller) ClearTarget(a rotator.Axis) {
	c.cmds[a] = command{}
	c.states[a] = Idle
}

// Target returns the active target of an axis.
func (c *Controller) Target(a rotator.Axis) (float64, bool) {
	return c.cmds[a].target, c.cmds[a].active
}

func (c *Controller) State(a rotator.Axis) State {
	return c.states[a]
}

// Tick evaluates both axes against the current angles and limits and drives
// the motors for one control tick. A reached target, or a limit in the
// direction of travel, clears the target without moving.
func (c *Controller) Tick(current [2]float64, limits safety.State) error {
	var p Plan
	for _, a := range rotator.Axes {
		cmd := c.cmds[a]
		if !cmd.active {
			c.states[a] = Idle
			continue
		}
		cfg := c.Axes[a]
		err := ComputeError(cmd.target, current[a], cfg.Wrap)
		if math.Abs(err) <= cfg.Tolerance {
			c.ClearTarget(a)
			continue
		}
		dir := rotator.Sign(err)
		if limits.Blocked(a, dir) {
			c.Logf("%s limit: cancelling target %.1f", dir.Name(a), cmd.target)
			c.ClearTarget(a)
			continue
		}
		tier, state := Slow, SeekingSlow
		if math.Abs(err) > cfg.SwitchThreshold {
			tier, state = Fast, SeekingFast
		}
		c.states[a] = state
		p[a] = AxisPlan{Direction: dir, Tier: tier, Error: err}
	}
	return c.Driver.Drive(p)
}

// StopAll clears both targets and stops the motors.
func (c *Controller) StopAll() error {
	for _, a := range rotator.Axes {
		c.ClearTarget(a)
	}
	return c.Driver.Halt()
}

// Jog overrides automatic motion with manual motion of one axis.
func (c *Controller) Jog(a rotator.Axis, d rotator.Direction) error {
	if d != rotator.Still {
		for _, ax := range rotator.Axes {
			c.ClearTarget(ax)
		}
	}
	return c.Driver.Jog(a, d)
}

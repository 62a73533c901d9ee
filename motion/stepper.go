package motion

import (
	"time"

	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/rotator"
)

// Guard vetoes individual step pulses.
type Guard interface {
	Permitted(a rotator.Axis, d rotator.Direction) bool
}

type StepperAxis struct {
	Step, Dir hal.Pin
	// Invert swaps the level of Dir for the positive direction.
	Invert bool
}

// StepperDriver pulses step/direction stepper drivers directly.
type StepperDriver struct {
	Board hal.Board
	Axes  [2]StepperAxis
	Guard Guard
	// FastDelay and SlowDelay are the step half periods of the two tiers.
	FastDelay, SlowDelay time.Duration
	PulsesPerTick        int
	// JogSteps is the burst length of one manual jog.
	JogSteps int

	steps [2]int64
}

func NewStepperDriver(b hal.Board, az, el StepperAxis, g Guard) *StepperDriver {
	return &StepperDriver{
		Board:         b,
		Axes:          [2]StepperAxis{az, el},
		Guard:         g,
		FastDelay:     50 * time.Microsecond,
		SlowDelay:     200 * time.Microsecond,
		PulsesPerTick: 1,
		JogSteps:      20,
	}
}

func (s *StepperDriver) Setup() error {
	for _, ax := range s.Axes {
		if err := hal.SetupAll(s.Board, hal.Output, ax.Step, ax.Dir); err != nil {
			return err
		}
		s.Board.Write(ax.Step, false)
	}
	return nil
}

// pulse emits one step unless the guard vetoes it.
func (s *StepperDriver) pulse(a rotator.Axis, d rotator.Direction, delay time.Duration) bool {
	if s.Guard != nil && !s.Guard.Permitted(a, d) {
		return false
	}
	ax := s.Axes[a]
	s.Board.Write(ax.Dir, (d > 0) != ax.Invert)
	s.Board.Write(ax.Step, true)
	s.Board.Delay(delay)
	s.Board.Write(ax.Step, false)
	s.Board.Delay(delay)
	s.steps[a] += int64(d)
	return true
}

func (s *StepperDriver) Drive(p Plan) error {
	for i := 0; i < s.PulsesPerTick; i++ {
		for _, a := range rotator.Axes {
			ap := p[a]
			if ap.Direction == rotator.Still {
				continue
			}
			delay := s.SlowDelay
			if ap.Tier == Fast {
				delay = s.FastDelay
			}
			s.pulse(a, ap.Direction, delay)
		}
	}
	return nil
}

// Halt has nothing to do: pulses are only emitted from Drive and Jog.
func (s *StepperDriver) Halt() error { return nil }

// Jog emits a burst of JogSteps slow pulses. Releasing (Still) is a no-op.
func (s *StepperDriver) Jog(a rotator.Axis, d rotator.Direction) error {
	if d == rotator.Still {
		return nil
	}
	for i := 0; i < s.JogSteps; i++ {
		if !s.pulse(a, d, s.SlowDelay) {
			break
		}
	}
	return nil
}

// Steps returns the net number of steps emitted on an axis.
func (s *StepperDriver) Steps(a rotator.Axis) int64 {
	return s.steps[a]
}

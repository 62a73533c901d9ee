package position

import (
	"math"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/rotator"
)

// SSICounts is the resolution of a 12-bit SSI encoder.
const SSICounts = 4096

// SSIEncoder estimates position from an SSI encoder, optionally counting
// sensor turns so a geared encoder covers more than one sensor revolution.
type SSIEncoder struct {
	Reader    *SSIReader
	Store     *calibration.Store
	Axis      rotator.Axis
	GearRatio float64
	Reverse   bool
	// TrackTurns counts sensor turns across wraparound.
	TrackTurns bool
	Range      rotator.Range

	turns   int32
	offset  int32
	raw     int
	started bool
	deg     float64
}

func (e *SSIEncoder) Initialize(saved calibration.AxisData) error {
	if err := e.Reader.Setup(); err != nil {
		return err
	}
	if e.TrackTurns {
		e.turns = saved.Accumulator
	}
	e.offset = saved.Offset
	e.started = false
	e.Sample()
	return nil
}

func (e *SSIEncoder) gear() float64 {
	if e.GearRatio == 0 {
		return 1
	}
	return e.GearRatio
}

func (e *SSIEncoder) Sample() {
	raw := e.Reader.Read() & (SSICounts - 1)
	if e.Reverse {
		raw = SSICounts - 1 - raw
	}
	if e.started && e.TrackTurns {
		switch d := raw - e.raw; {
		case d < -SSICounts/2:
			e.turns++
			e.Store.Stage(e.Axis, e.turns)
		case d > SSICounts/2:
			e.turns--
			e.Store.Stage(e.Axis, e.turns)
		}
	}
	e.raw = raw
	e.started = true
	counts := int64(e.turns)*SSICounts + int64(e.raw) - int64(e.offset)
	e.deg = e.Range.Normalize(float64(counts) / SSICounts * 360 / e.gear())
}

func (e *SSIEncoder) Degrees() float64 { return e.deg }

func (e *SSIEncoder) Raw() int { return e.raw }

// Turns returns the sensor turn count.
func (e *SSIEncoder) Turns() int32 { return e.turns }

func (e *SSIEncoder) Calibrate(deg float64) error {
	target := int64(math.Round(deg * SSICounts * e.gear() / 360))
	e.offset = int32(int64(e.turns)*SSICounts + int64(e.raw) - target)
	e.deg = e.Range.Normalize(deg)
	return e.Store.SaveOffset(e.Axis, e.offset)
}

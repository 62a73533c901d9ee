// Package sim is a simulated mount: stepper-driven shafts with the sensors
// and limit circuits the controller expects, behind hal.Board.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/w1xm/eme_rotator/hal"
)

// Shaft is one simulated axis turned by a stepper motor.
type Shaft struct {
	// Degrees is the antenna angle.
	Degrees float64
	// DegreesPerStep is antenna travel per step pulse.
	DegreesPerStep float64
	// SensorRatio is sensor turns per antenna turn.
	SensorRatio float64
	// The limit circuit opens outside [Min, Max] when Max > Min.
	Min, Max float64

	Steps int64
}

// sensor returns the sensor shaft position as a fraction of a turn.
func (s *Shaft) sensor() float64 {
	ratio := s.SensorRatio
	if ratio == 0 {
		ratio = 1
	}
	f := math.Mod(s.Degrees*ratio/360, 1)
	if f < 0 {
		f++
	}
	return f
}

func (s *Shaft) outside() bool {
	return s.Max > s.Min && (s.Degrees < s.Min || s.Degrees > s.Max)
}

type stepper struct {
	dir   hal.Pin
	shaft *Shaft
}

type pot struct {
	shaft   *Shaft
	reverse bool
}

type encoder struct {
	sel, clk, data hal.Pin
	shaft          *Shaft
	bits           int

	latched int
	bit     int
}

type limit struct {
	shaft     *Shaft
	safeLevel bool
}

type Board struct {
	mu       sync.Mutex
	modes    map[hal.Pin]hal.Mode
	levels   map[hal.Pin]bool
	analog   map[hal.Pin]int
	steppers map[hal.Pin]stepper
	pots     map[hal.Pin]pot
	encoders []*encoder
	limits   map[hal.Pin]limit
	elapsed  time.Duration
}

func New() *Board {
	return &Board{
		modes:    make(map[hal.Pin]hal.Mode),
		levels:   make(map[hal.Pin]bool),
		analog:   make(map[hal.Pin]int),
		steppers: make(map[hal.Pin]stepper),
		pots:     make(map[hal.Pin]pot),
		limits:   make(map[hal.Pin]limit),
	}
}

// AttachStepper moves shaft one step on each rising edge of step. A high dir
// level moves in the positive direction.
func (b *Board) AttachStepper(step, dir hal.Pin, shaft *Shaft) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steppers[step] = stepper{dir: dir, shaft: shaft}
}

// AttachPot makes pin read the sensor shaft angle as a 10-bit sample.
func (b *Board) AttachPot(pin hal.Pin, shaft *Shaft, reverse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pots[pin] = pot{shaft: shaft, reverse: reverse}
}

// AttachSSI emulates a 4096-count SSI encoder that shifts out bits data bits
// MSB first, advancing one bit on each falling clock edge while sel is low.
func (b *Board) AttachSSI(sel, clk, data hal.Pin, shaft *Shaft, bits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoders = append(b.encoders, &encoder{sel: sel, clk: clk, data: data, shaft: shaft, bits: bits, bit: -1})
	b.levels[sel] = true
	b.levels[clk] = true
}

// AttachLimit makes pin read safeLevel while shaft is within its travel.
func (b *Board) AttachLimit(pin hal.Pin, shaft *Shaft, safeLevel bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits[pin] = limit{shaft: shaft, safeLevel: safeLevel}
}

// SetInput forces the level of an unattached input.
func (b *Board) SetInput(pin hal.Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels[pin] = high
}

// SetAnalog forces the sample of an unattached analog input.
func (b *Board) SetAnalog(pin hal.Pin, v int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analog[pin] = v
}

// Angle returns the antenna angle of shaft.
func (b *Board) Angle(s *Shaft) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return s.Degrees
}

// Move sets the antenna angle of shaft, as if turned by hand.
func (b *Board) Move(s *Shaft, degrees float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.Degrees = degrees
}

// Level returns the last level written to an output.
func (b *Board) Level(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin]
}

// Elapsed returns the total time spent in Delay.
func (b *Board) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elapsed
}

func (b *Board) Setup(pin hal.Pin, mode hal.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = mode
	return nil
}

func (b *Board) Write(pin hal.Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.levels[pin]
	b.levels[pin] = high
	if st, ok := b.steppers[pin]; ok && high && !prev {
		if b.levels[st.dir] {
			st.shaft.Degrees += st.shaft.DegreesPerStep
		} else {
			st.shaft.Degrees -= st.shaft.DegreesPerStep
		}
		st.shaft.Steps++
	}
	for _, e := range b.encoders {
		switch {
		case pin == e.sel && !high && prev:
			e.latched = int(e.shaft.sensor()*4096) & 4095
			e.bit = -1
		case pin == e.clk && !high && prev && !b.levels[e.sel]:
			e.bit++
		}
	}
}

func (b *Board) Read(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.encoders {
		if pin != e.data {
			continue
		}
		if e.bit < 0 || e.bit >= e.bits {
			return false
		}
		return (e.latched>>uint(e.bits-1-e.bit))&1 == 1
	}
	if l, ok := b.limits[pin]; ok {
		if l.shaft.outside() {
			return !l.safeLevel
		}
		return l.safeLevel
	}
	return b.levels[pin]
}

func (b *Board) ReadAnalog(pin hal.Pin) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pots[pin]; ok {
		v := int(p.shaft.sensor() * 1024)
		if v > 1023 {
			v = 1023
		}
		if p.reverse {
			v = 1023 - v
		}
		return v
	}
	return b.analog[pin]
}

// Delay does not sleep; it only accounts for simulated time.
func (b *Board) Delay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elapsed += d
}

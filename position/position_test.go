package position

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/hal/sim"
	"github.com/w1xm/eme_rotator/rotator"
)

const (
	gear      = 10
	potPin    = hal.Pin(0)
	selPin    = hal.Pin(1)
	clkPin    = hal.Pin(2)
	dataPin   = hal.Pin(3)
	tolerance = 0.05
)

var azRange = rotator.Range{Wrap: true, SnapAbove: 359.5}

func newStore(t *testing.T, s calibration.Storage) *calibration.Store {
	t.Helper()
	cpd := gear * ADCLevels / 360.0
	st, err := calibration.NewStore(s,
		calibration.TableSpec{Points: 35, Step: 10, CountsPerDegree: cpd},
		calibration.TableSpec{Points: 10, Step: 10, CountsPerDegree: cpd},
		5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	st.Logf = t.Logf
	return st
}

func load(t *testing.T, st *calibration.Store) calibration.Data {
	t.Helper()
	d, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func near(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

// ssiAngle returns the antenna angle that puts the sensor mid-way through count.
func ssiAngle(count int) float64 {
	return (float64(count) + 0.5) * 360 / SSICounts
}

func newEncoder(t *testing.T, b *sim.Board, st *calibration.Store, gearRatio float64) *SSIEncoder {
	t.Helper()
	e := &SSIEncoder{
		Reader:     NewSSIReader(b, selPin, clkPin, dataPin),
		Store:      st,
		Axis:       rotator.Azimuth,
		GearRatio:  gearRatio,
		TrackTurns: true,
		Range:      azRange,
	}
	if err := e.Initialize(load(t, st).Axes[rotator.Azimuth]); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSSIWraparoundForward(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{Degrees: ssiAngle(4090), SensorRatio: 1}
	b.AttachSSI(selPin, clkPin, dataPin, shaft, 12)
	mem := calibration.NewMemoryStorage(calibration.DefaultSize)
	st := newStore(t, mem)
	e := newEncoder(t, b, st, 1)
	if e.Raw() != 4090 {
		t.Fatalf("Raw = %d, want 4090", e.Raw())
	}
	before := e.Degrees()

	b.Move(shaft, ssiAngle(5))
	e.Sample()
	if e.Turns() != 1 {
		t.Errorf("Turns = %d, want 1", e.Turns())
	}
	want := (4096.0 + 5) / 4096 * 360
	if got := e.Degrees(); !near(got, want-360, 1e-9) {
		t.Errorf("Degrees = %v, want %v", got, want-360)
	}
	if moved := rotator.AddOffset(e.Degrees(), -before); moved > 1 {
		t.Errorf("moved %v degrees across the wrap, want a small forward step", moved)
	}

	// And back again.
	b.Move(shaft, ssiAngle(4090))
	e.Sample()
	if e.Turns() != 0 {
		t.Errorf("Turns after reverse wrap = %d, want 0", e.Turns())
	}

	b.Move(shaft, ssiAngle(5))
	e.Sample()
	if err := st.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := load(t, newStore(t, mem)).Axes[rotator.Azimuth].Accumulator; got != 1 {
		t.Errorf("persisted turns = %d, want 1", got)
	}
}

func TestWrapDeltaBound(t *testing.T) {
	for a := 0; a < ADCLevels; a += 7 {
		for b := 0; b < ADCLevels; b += 11 {
			d := wrapDelta(b-a, ADCLevels)
			if d > ADCLevels/2 || d < -ADCLevels/2 {
				t.Fatalf("wrapDelta(%d-%d) = %d, outside half range", b, a, d)
			}
			if (a+d-b)%ADCLevels != 0 {
				t.Fatalf("wrapDelta(%d-%d) = %d does not land on %d", b, a, d, b)
			}
		}
	}
}

func TestSSICalibrate(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{Degrees: 77.7, SensorRatio: gear}
	b.AttachSSI(selPin, clkPin, dataPin, shaft, 12)
	mem := calibration.NewMemoryStorage(calibration.DefaultSize)
	st := newStore(t, mem)
	e := newEncoder(t, b, st, gear)

	resolution := 360.0 / SSICounts / gear
	if err := e.Calibrate(123.5); err != nil {
		t.Fatal(err)
	}
	first := load(t, newStore(t, mem)).Axes[rotator.Azimuth].Offset
	e.Sample()
	if got := e.Degrees(); !near(got, 123.5, resolution) {
		t.Errorf("Degrees after Calibrate(123.5) = %v", got)
	}

	// Move the antenna by 10 degrees; the encoder follows.
	b.Move(shaft, 87.7)
	e.Sample()
	if got := e.Degrees(); !near(got, 133.5, 2*resolution) {
		t.Errorf("Degrees after moving 10 = %v, want 133.5", got)
	}
	b.Move(shaft, 77.7)
	e.Sample()

	for _, deg := range []float64{10, 123.5} {
		if err := e.Calibrate(deg); err != nil {
			t.Fatal(err)
		}
	}
	if got := load(t, newStore(t, mem)).Axes[rotator.Azimuth].Offset; got != first {
		t.Errorf("offset after recalibrating = %d, want %d", got, first)
	}
}

func newPot(t *testing.T, b *sim.Board, st *calibration.Store) *MultiTurnPot {
	t.Helper()
	p := &MultiTurnPot{
		Board:     b,
		Pin:       potPin,
		Samples:   16,
		GearRatio: gear,
		Range:     azRange,
		Store:     st,
		Axis:      rotator.Azimuth,
	}
	if err := p.Initialize(load(t, st).Axes[rotator.Azimuth]); err != nil {
		t.Fatal(err)
	}
	return p
}

func settle(p *MultiTurnPot) {
	for i := 0; i < 64; i++ {
		p.Sample()
	}
}

func TestMultiTurnPotTracksAcrossWraps(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{SensorRatio: gear}
	b.AttachPot(potPin, shaft, false)
	p := newPot(t, b, newStore(t, calibration.NewMemoryStorage(calibration.DefaultSize)))

	prev := p.Degrees()
	for deg := 0.0; deg <= 100; deg += 0.1 {
		b.Move(shaft, deg)
		p.Sample()
		got := p.Degrees()
		if got < prev-1e-9 || got-prev > 1 {
			t.Fatalf("at %v: Degrees jumped from %v to %v", deg, prev, got)
		}
		prev = got
	}
	settle(p)
	if got := p.Degrees(); !near(got, 100, 0.1) {
		t.Errorf("Degrees after 100 degrees of travel = %v", got)
	}
}

func TestMultiTurnPotReversed(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{SensorRatio: gear}
	b.AttachPot(potPin, shaft, true)
	p := newPot(t, b, newStore(t, calibration.NewMemoryStorage(calibration.DefaultSize)))
	p.Reverse = true
	if err := p.Initialize(calibration.AxisData{Table: p.Store.Spec(rotator.Azimuth).Linear(0)}); err != nil {
		t.Fatal(err)
	}
	for deg := 0.0; deg <= 50; deg += 0.5 {
		b.Move(shaft, deg)
		p.Sample()
	}
	settle(p)
	if got := p.Degrees(); !near(got, 50, 0.1) {
		t.Errorf("Degrees = %v, want 50", got)
	}
}

func TestMultiTurnPotCalibrate(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{Degrees: 47.3, SensorRatio: gear}
	b.AttachPot(potPin, shaft, false)
	mem := calibration.NewMemoryStorage(calibration.DefaultSize)
	st := newStore(t, mem)
	p := newPot(t, b, st)
	for i := 0; i < 20; i++ {
		b.Move(shaft, 47.3+float64(i))
		p.Sample()
	}

	if err := p.Calibrate(123.5); err != nil {
		t.Fatal(err)
	}
	if got := p.Degrees(); got != 123.5 {
		t.Errorf("Degrees immediately after Calibrate = %v, want 123.5", got)
	}
	settle(p)
	if got := p.Degrees(); !near(got, 123.5, tolerance) {
		t.Errorf("Degrees after settling = %v, want 123.5", got)
	}
	first := load(t, newStore(t, mem)).Axes[rotator.Azimuth]

	for _, deg := range []float64{10, 355, 123.5} {
		if err := p.Calibrate(deg); err != nil {
			t.Fatal(err)
		}
		settle(p)
		if got := p.Degrees(); !near(got, deg, tolerance) {
			t.Errorf("Degrees after Calibrate(%v) = %v", deg, got)
		}
	}
	if diff := cmp.Diff(first, load(t, newStore(t, mem)).Axes[rotator.Azimuth]); diff != "" {
		t.Errorf("calibration drifted after recalibrating: want(-)/got(+):\n%s", diff)
	}
}

func TestMultiTurnPotReload(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{Degrees: 200, SensorRatio: gear}
	b.AttachPot(potPin, shaft, false)
	mem := calibration.NewMemoryStorage(calibration.DefaultSize)
	st := newStore(t, mem)
	p := newPot(t, b, st)
	if err := p.Calibrate(0); err != nil {
		t.Fatal(err)
	}
	for deg := 200.0; deg <= 220; deg += 0.25 {
		b.Move(shaft, deg)
		p.Sample()
	}
	settle(p)
	if err := st.Flush(); err != nil {
		t.Fatal(err)
	}
	want := p.Degrees()
	if !near(want, 20, 0.1) {
		t.Errorf("Degrees after 20 degrees of travel = %v", want)
	}

	// Power cycle: same storage, same physical heading.
	reloaded := newPot(t, b, newStore(t, mem))
	if got := reloaded.Degrees(); !near(got, want, tolerance) {
		t.Errorf("Degrees after reload = %v, want %v", got, want)
	}
	settle(reloaded)
	if got := reloaded.Degrees(); !near(got, want, tolerance) {
		t.Errorf("Degrees after reload and settling = %v, want %v", got, want)
	}
}

func TestMultiTurnPotTablePoint(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{SensorRatio: gear}
	b.AttachPot(potPin, shaft, false)
	mem := calibration.NewMemoryStorage(calibration.DefaultSize)
	st := newStore(t, mem)
	p := newPot(t, b, st)
	for deg := 0.0; deg <= 30.4; deg += 0.2 {
		b.Move(shaft, deg)
		p.Sample()
	}
	settle(p)
	acc := p.Accumulator()
	if err := p.CalibrateTablePoint(31); err != nil {
		t.Fatal(err)
	}
	if got := p.Degrees(); got != 30 {
		t.Errorf("Degrees after CalibrateTablePoint(31) = %v, want snapped 30", got)
	}
	if got := load(t, newStore(t, mem)).Axes[rotator.Azimuth].Table.Values[3]; got != acc {
		t.Errorf("persisted table[3] = %d, want %d", got, acc)
	}
	settle(p)
	if got := p.Degrees(); !near(got, 30, tolerance) {
		t.Errorf("Degrees after settling = %v, want 30", got)
	}

	if err := p.ResetTable(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(st.Spec(rotator.Azimuth).Linear(0), load(t, newStore(t, mem)).Axes[rotator.Azimuth].Table); diff != "" {
		t.Errorf("table after reset: want(-)/got(+):\n%s", diff)
	}
}

func TestPotentiometer(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{Degrees: 90, SensorRatio: 1}
	b.AttachPot(potPin, shaft, false)
	st := newStore(t, calibration.NewMemoryStorage(calibration.DefaultSize))
	p := &Potentiometer{
		Board:   b,
		Pin:     potPin,
		Samples: 8,
		Range:   rotator.Range{Min: -15, Max: 95},
		Store:   st,
		Axis:    rotator.Elevation,
	}
	if err := p.Initialize(calibration.AxisData{}); err != nil {
		t.Fatal(err)
	}
	if got := p.Degrees(); !near(got, 90, 0.36) {
		t.Errorf("Degrees = %v, want 90", got)
	}
	if err := p.Calibrate(45); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		p.Sample()
	}
	if got := p.Degrees(); !near(got, 45, 0.36) {
		t.Errorf("Degrees after Calibrate(45) = %v", got)
	}
	b.Move(shaft, 150)
	for i := 0; i < 8; i++ {
		p.Sample()
	}
	if got := p.Degrees(); got != 95 {
		t.Errorf("Degrees beyond range = %v, want clamped 95", got)
	}
}

func TestAxis(t *testing.T) {
	b := sim.New()
	shaft := &sim.Shaft{SensorRatio: 1}
	b.AttachSSI(selPin, clkPin, dataPin, shaft, 12)
	st := newStore(t, calibration.NewMemoryStorage(calibration.DefaultSize))
	e := &SSIEncoder{Reader: NewSSIReader(b, selPin, clkPin, dataPin), Store: st, Axis: rotator.Azimuth, Range: azRange}
	a := NewAxis(rotator.Azimuth, e, 20*time.Millisecond)
	if err := a.Initialize(calibration.AxisData{}); err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(0, 0)
	var ticks []bool
	for _, ms := range []int{0, 10, 20, 25, 40} {
		ticks = append(ticks, a.Tick(t0.Add(time.Duration(ms)*time.Millisecond)))
	}
	if diff := cmp.Diff([]bool{true, false, true, false, true}, ticks); diff != "" {
		t.Errorf("Tick: want(-)/got(+):\n%s", diff)
	}
	if err := a.CalibrateTablePoint(10); !errors.Is(err, calibration.ErrNoTable) {
		t.Errorf("CalibrateTablePoint on encoder = %v, want ErrNoTable", err)
	}
	if _, ok := a.Table(); ok {
		t.Errorf("encoder axis reports a table")
	}
}

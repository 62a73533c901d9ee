package position

import (
	"math"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/rotator"
)

// ADCLevels is the resolution of potentiometer samples.
const ADCLevels = 1024

func readADC(b hal.Board, pin hal.Pin, reverse bool) int {
	v := b.ReadAnalog(pin)
	if v < 0 {
		v = 0
	} else if v >= ADCLevels {
		v = ADCLevels - 1
	}
	if reverse {
		v = ADCLevels - 1 - v
	}
	return v
}

// wrapDelta reinterprets a jump of more than half the range as a wraparound.
func wrapDelta(d, levels int) int {
	if d > levels/2 {
		return d - levels
	}
	if d < -levels/2 {
		return d + levels
	}
	return d
}

// Potentiometer estimates position from a single-turn potentiometer whose
// full ADC range spans Span degrees of antenna travel.
type Potentiometer struct {
	Board   hal.Board
	Pin     hal.Pin
	Reverse bool
	Samples int
	Span    float64
	Range   rotator.Range
	Store   *calibration.Store
	Axis    rotator.Axis

	avg    *movingAverage
	raw    int
	offset int32
	deg    float64
}

func (p *Potentiometer) Initialize(saved calibration.AxisData) error {
	if p.Span == 0 {
		p.Span = 360
	}
	p.offset = saved.Offset
	p.avg = newMovingAverage(p.Samples)
	p.raw = readADC(p.Board, p.Pin, p.Reverse)
	p.avg.fill(int64(p.raw))
	p.update()
	return nil
}

func (p *Potentiometer) Sample() {
	p.raw = readADC(p.Board, p.Pin, p.Reverse)
	p.avg.push(int64(p.raw))
	p.update()
}

func (p *Potentiometer) update() {
	p.deg = p.Range.Normalize((p.avg.mean() - float64(p.offset)) * p.Span / ADCLevels)
}

func (p *Potentiometer) Degrees() float64 { return p.deg }

func (p *Potentiometer) Raw() int { return p.raw }

func (p *Potentiometer) Calibrate(deg float64) error {
	p.offset = int32(math.Round(p.avg.mean() - deg*ADCLevels/p.Span))
	p.deg = p.Range.Normalize(deg)
	return p.Store.SaveOffset(p.Axis, p.offset)
}

// MultiTurnPot estimates position from a potentiometer that turns more than
// once over the antenna travel. Sample deltas are accumulated across
// wraparound, smoothed, mapped through the correction table and filtered.
type MultiTurnPot struct {
	Board     hal.Board
	Pin       hal.Pin
	Reverse   bool
	Samples   int
	GearRatio float64
	Range     rotator.Range
	Store     *calibration.Store
	Axis      rotator.Axis
	// Weight of a new reading in the output filter.
	FilterWeight float64

	acc    int32
	offset int32
	raw    int
	avg    *movingAverage
	filter ema
	table  calibration.Table
	deg    float64
}

func (p *MultiTurnPot) Initialize(saved calibration.AxisData) error {
	if p.GearRatio == 0 {
		p.GearRatio = 1
	}
	if p.FilterWeight == 0 {
		p.FilterWeight = 0.25
	}
	p.acc = saved.Accumulator
	p.offset = saved.Offset
	p.table = saved.Table.Clone()
	p.avg = newMovingAverage(p.Samples)
	p.avg.fill(int64(p.acc))
	p.raw = readADC(p.Board, p.Pin, p.Reverse)
	p.filter = ema{weight: p.FilterWeight}
	p.filter.set(p.toDegrees(float64(p.acc)))
	p.deg = p.Range.Normalize(p.filter.value)
	return nil
}

func (p *MultiTurnPot) countsPerDegree() float64 {
	return p.GearRatio * ADCLevels / 360
}

func (p *MultiTurnPot) toDegrees(count float64) float64 {
	if p.table.Len() >= 2 {
		return p.table.Degrees(count)
	}
	return (count - float64(p.offset)) / p.countsPerDegree()
}

func (p *MultiTurnPot) Sample() {
	raw := readADC(p.Board, p.Pin, p.Reverse)
	if d := wrapDelta(raw-p.raw, ADCLevels); d != 0 {
		p.acc += int32(d)
		p.Store.Stage(p.Axis, p.acc)
	}
	p.raw = raw
	p.avg.push(int64(p.acc))
	p.deg = p.Range.Normalize(p.filter.update(p.toDegrees(p.avg.mean())))
}

func (p *MultiTurnPot) Degrees() float64 { return p.deg }

func (p *MultiTurnPot) Raw() int { return p.raw }

func (p *MultiTurnPot) Accumulator() int32 { return p.acc }

func (p *MultiTurnPot) Table() calibration.Table { return p.table.Clone() }

// Calibrate restarts accumulation at the current reading. With a table, the
// whole table is reprojected so that the current reading maps to deg;
// without one, the offset is.
func (p *MultiTurnPot) Calibrate(deg float64) error {
	p.raw = readADC(p.Board, p.Pin, p.Reverse)
	p.acc = 0
	p.avg.fill(0)
	p.filter.set(deg)
	p.deg = p.Range.Normalize(deg)
	if err := p.Store.SaveAccumulator(p.Axis, 0); err != nil {
		return err
	}
	if p.table.Len() > 0 {
		p.table = p.Store.Spec(p.Axis).Linear(deg)
		return p.Store.SaveTable(p.Axis, p.table)
	}
	p.offset = int32(math.Round(-deg * p.countsPerDegree()))
	return p.Store.SaveOffset(p.Axis, p.offset)
}

// CalibrateTablePoint stores the accumulator at the entry nearest deg and
// snaps the position to that entry's nominal angle.
func (p *MultiTurnPot) CalibrateTablePoint(deg float64) error {
	if p.table.Len() == 0 {
		return calibration.ErrNoTable
	}
	i := p.table.Index(deg)
	p.table.Values[i] = p.acc
	angle := p.table.Angle(i)
	p.filter.set(angle)
	p.deg = p.Range.Normalize(angle)
	return p.Store.SaveTablePoint(p.Axis, i, p.acc)
}

func (p *MultiTurnPot) ResetTable() error {
	if p.table.Len() == 0 {
		return calibration.ErrNoTable
	}
	p.table = p.Store.Spec(p.Axis).Linear(0)
	return p.Store.SaveTable(p.Axis, p.table)
}

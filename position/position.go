// Package position estimates the antenna angle of each axis from raw sensor
// readings: SSI encoders, single-turn potentiometers, and multi-turn
// potentiometers with a correction table.
package position

import (
	"fmt"
	"time"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/internal/clock"
	"github.com/w1xm/eme_rotator/rotator"
)

// Estimator turns raw sensor readings into an antenna angle for one axis.
// Reads never fail; out of range values are clamped or extrapolated.
type Estimator interface {
	// Initialize restores persisted state and takes a settling reading.
	Initialize(saved calibration.AxisData) error
	// Sample takes one sensor reading.
	Sample()
	Degrees() float64
	Raw() int
	// Calibrate redefines the current position as deg and persists it.
	Calibrate(deg float64) error
}

// TableEstimator is an Estimator backed by a correction table.
type TableEstimator interface {
	Estimator
	// CalibrateTablePoint stores the current reading at the entry nearest deg.
	CalibrateTablePoint(deg float64) error
	// ResetTable restores the theoretical linear table.
	ResetTable() error
	Table() calibration.Table
	Accumulator() int32
}

// Axis owns the position state of one axis and rate-limits its sampling.
type Axis struct {
	Name rotator.Axis

	est      Estimator
	interval *clock.Interval
}

func NewAxis(name rotator.Axis, est Estimator, period time.Duration) *Axis {
	return &Axis{
		Name:     name,
		est:      est,
		interval: clock.NewInterval(period),
	}
}

func (a *Axis) Initialize(saved calibration.AxisData) error {
	if err := a.est.Initialize(saved); err != nil {
		return fmt.Errorf("initializing %s sensor: %w", a.Name, err)
	}
	return nil
}

// Tick samples the sensor if the sampling interval has elapsed.
func (a *Axis) Tick(now time.Time) bool {
	if !a.interval.Due(now) {
		return false
	}
	a.est.Sample()
	return true
}

func (a *Axis) Degrees() float64 { return a.est.Degrees() }

func (a *Axis) Raw() int { return a.est.Raw() }

func (a *Axis) Calibrate(deg float64) error {
	if err := a.est.Calibrate(deg); err != nil {
		return fmt.Errorf("calibrating %s: %w", a.Name, err)
	}
	return nil
}

func (a *Axis) tableEstimator() (TableEstimator, bool) {
	te, ok := a.est.(TableEstimator)
	if !ok || te.Table().Len() == 0 {
		return nil, false
	}
	return te, true
}

func (a *Axis) CalibrateTablePoint(deg float64) error {
	te, ok := a.tableEstimator()
	if !ok {
		return calibration.ErrNoTable
	}
	if err := te.CalibrateTablePoint(deg); err != nil {
		return fmt.Errorf("calibrating %s table: %w", a.Name, err)
	}
	return nil
}

func (a *Axis) ResetTable() error {
	te, ok := a.tableEstimator()
	if !ok {
		return calibration.ErrNoTable
	}
	return te.ResetTable()
}

// Table returns a copy of the correction table, if the axis has one.
func (a *Axis) Table() (calibration.Table, bool) {
	te, ok := a.tableEstimator()
	if !ok {
		return calibration.Table{}, false
	}
	return te.Table(), true
}

// Accumulator returns the accumulated sensor count of table axes and the raw
// sample otherwise.
func (a *Axis) Accumulator() int64 {
	if te, ok := a.est.(TableEstimator); ok {
		return int64(te.Accumulator())
	}
	return int64(a.est.Raw())
}

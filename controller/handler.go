package controller

import (
	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/rotator"
)

// handler gives the Easycom parser access to the loop state. Its methods
// run on the loop goroutine.
type handler struct {
	c *Controller
}

func (h handler) Position() [2]float64 {
	return h.c.current()
}

func (h handler) SetTarget(a rotator.Axis, deg float64) {
	h.c.Motion.SetTarget(a, deg)
}

func (h handler) ClearTarget(a rotator.Axis) {
	h.c.Motion.ClearTarget(a)
}

func (h handler) Stop() error {
	return h.c.Motion.StopAll()
}

func (h handler) ResetCalibration() error {
	if err := h.c.Store.Reset(); err != nil {
		return err
	}
	h.c.Logf("calibration storage cleared; restart to apply")
	return nil
}

func (h handler) Calibrate(a rotator.Axis, deg float64) error {
	return h.c.Axes[a].Calibrate(deg)
}

func (h handler) CalibrateTablePoint(a rotator.Axis, deg float64) error {
	return h.c.Axes[a].CalibrateTablePoint(deg)
}

func (h handler) ResetTable(a rotator.Axis) error {
	return h.c.Axes[a].ResetTable()
}

func (h handler) Table(a rotator.Axis) (calibration.Table, bool) {
	return h.c.Axes[a].Table()
}

func (h handler) Accumulator(a rotator.Axis) int64 {
	return h.c.Axes[a].Accumulator()
}

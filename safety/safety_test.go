package safety

import (
	"testing"

	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/hal/sim"
	"github.com/w1xm/eme_rotator/rotator"
)

func TestCircuitBlocksBothDirections(t *testing.T) {
	b := sim.New()
	m := NewMonitor(b, 1, 2, false)
	m.Logf = t.Logf
	if err := m.Setup(); err != nil {
		t.Fatal(err)
	}
	s := m.Poll()
	for _, a := range rotator.Axes {
		if s.Tripped(a) {
			t.Errorf("%v tripped with closed circuit", a)
		}
	}

	b.SetInput(1, true)
	s = m.Poll()
	for _, d := range []rotator.Direction{rotator.Positive, rotator.Negative} {
		if !s.Blocked(rotator.Azimuth, d) {
			t.Errorf("azimuth %v not blocked with open circuit", d.Name(rotator.Azimuth))
		}
		if !m.Permitted(rotator.Elevation, d) {
			t.Errorf("elevation %v blocked by azimuth circuit", d.Name(rotator.Elevation))
		}
		if m.Permitted(rotator.Azimuth, d) {
			t.Errorf("azimuth %v permitted with open circuit", d.Name(rotator.Azimuth))
		}
	}
	if s.Blocked(rotator.Azimuth, rotator.Still) {
		t.Errorf("standing still is blocked")
	}

	b.SetInput(1, false)
	if s := m.Poll(); s.Tripped(rotator.Azimuth) {
		t.Errorf("azimuth still tripped after circuit closed")
	}
}

func TestSafeLevelHigh(t *testing.T) {
	b := sim.New()
	m := NewMonitor(b, 1, hal.NoPin, true)
	m.Logf = t.Logf
	b.SetInput(1, true)
	if s := m.Poll(); s.Tripped(rotator.Azimuth) || s.Tripped(rotator.Elevation) {
		t.Errorf("tripped with circuit at safe level: %+v", s)
	}
	b.SetInput(1, false)
	if s := m.Poll(); !s.Tripped(rotator.Azimuth) {
		t.Errorf("not tripped with circuit at unsafe level")
	}
}

func TestReportedLimitIsDirectional(t *testing.T) {
	m := NewMonitor(sim.New(), hal.NoPin, hal.NoPin, false)
	m.Logf = t.Logf
	m.SetReported(rotator.Azimuth, rotator.Positive, true)
	s := m.Poll()
	if !s.Blocked(rotator.Azimuth, rotator.Positive) {
		t.Errorf("CW not blocked after CW limit report")
	}
	if s.Blocked(rotator.Azimuth, rotator.Negative) {
		t.Errorf("CCW blocked after CW limit report")
	}
	if m.Permitted(rotator.Azimuth, rotator.Positive) || !m.Permitted(rotator.Azimuth, rotator.Negative) {
		t.Errorf("Permitted disagrees with reported CW limit")
	}
	m.SetReported(rotator.Azimuth, rotator.Positive, false)
	if m.State().Tripped(rotator.Azimuth) {
		t.Errorf("azimuth tripped after CLEAR")
	}
}

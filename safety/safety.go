// Package safety watches the end-of-travel limit circuits and vetoes motion
// toward a tripped limit.
package safety

import (
	"log"
	"sync"

	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/rotator"
)

func dirIndex(d rotator.Direction) int {
	if d > 0 {
		return 0
	}
	return 1
}

// State holds one "limit triggered" flag per axis and direction.
type State struct {
	limits [2][2]bool
}

// Blocked reports whether motion on axis in direction d is vetoed.
func (s State) Blocked(a rotator.Axis, d rotator.Direction) bool {
	if d == rotator.Still {
		return false
	}
	return s.limits[a][dirIndex(d)]
}

// Tripped reports whether any limit of the axis is triggered.
func (s State) Tripped(a rotator.Axis) bool {
	return s.limits[a][0] || s.limits[a][1]
}

func (s *State) set(a rotator.Axis, d rotator.Direction, v bool) {
	s.limits[a][dirIndex(d)] = v
}

// Monitor polls one normally-closed series limit circuit per axis. The
// circuit cannot tell which end opened, so an open circuit blocks both
// directions. A secondary controller may report single-direction limits,
// which are merged in with SetReported.
type Monitor struct {
	Board hal.Board
	// Pins are the circuit inputs per axis; hal.NoPin disables an axis.
	Pins [2]hal.Pin
	// SafeLevel is the level read while the circuit is closed. With pull-ups
	// and the circuit switching to ground this is low (false).
	SafeLevel bool

	Logf func(format string, v ...interface{})

	mu       sync.Mutex
	open     [2]bool
	reported State
}

func NewMonitor(b hal.Board, az, el hal.Pin, safeLevel bool) *Monitor {
	return &Monitor{
		Board:     b,
		Pins:      [2]hal.Pin{az, el},
		SafeLevel: safeLevel,
		Logf:      log.Printf,
	}
}

func (m *Monitor) Setup() error {
	return hal.SetupAll(m.Board, hal.InputPullUp, m.Pins[:]...)
}

func (m *Monitor) circuitOpen(a rotator.Axis) bool {
	pin := m.Pins[a]
	if pin == hal.NoPin {
		return false
	}
	return m.Board.Read(pin) != m.SafeLevel
}

// Poll reads both circuits, logs transitions, and returns the merged state.
func (m *Monitor) Poll() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range rotator.Axes {
		open := m.circuitOpen(a)
		if open != m.open[a] {
			if open {
				m.Logf("%s limit circuit open; blocking %s motion", a, a)
			} else {
				m.Logf("%s limit circuit closed", a)
			}
			m.open[a] = open
		}
	}
	return m.state()
}

func (m *Monitor) state() State {
	s := m.reported
	for _, a := range rotator.Axes {
		if m.open[a] {
			s.limits[a] = [2]bool{true, true}
		}
	}
	return s
}

// State returns the result of the last Poll merged with reported limits.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// SetReported records a single-direction limit reported by a secondary controller.
func (m *Monitor) SetReported(a rotator.Axis, d rotator.Direction, tripped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reported.Blocked(a, d) != tripped {
		if tripped {
			m.Logf("%s limit reported", d.Name(a))
		} else {
			m.Logf("%s limit cleared", d.Name(a))
		}
	}
	m.reported.set(a, d, tripped)
}

// Permitted re-reads the circuit and reports whether a single step on axis
// in direction d is allowed. Used to gate each step pulse.
func (m *Monitor) Permitted(a rotator.Axis, d rotator.Direction) bool {
	if m.circuitOpen(a) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.reported.Blocked(a, d)
}

// Package clock abstracts wall time so the control loop can be driven by tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Mock is a manually advanced clock.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and returns the new time.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Interval rate-limits a periodic task by its last run time. Calls to Due
// that arrive before Period has elapsed return false and are not queued.
type Interval struct {
	Period time.Duration

	last    time.Time
	started bool
}

func NewInterval(period time.Duration) *Interval {
	return &Interval{Period: period}
}

// Due reports whether the task should run at now, and if so records now as the last run.
func (i *Interval) Due(now time.Time) bool {
	if i.started && now.Sub(i.last) < i.Period {
		return false
	}
	i.started = true
	i.last = now
	return true
}

// Reset forgets the last run so the next Due call fires.
func (i *Interval) Reset() {
	i.started = false
}

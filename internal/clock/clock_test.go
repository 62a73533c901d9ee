package clock

import (
	"testing"
	"time"
)

func TestInterval(t *testing.T) {
	c := NewMock(time.Unix(1000, 0))
	i := NewInterval(20 * time.Millisecond)
	var fired []bool
	for _, step := range []time.Duration{0, 5, 10, 5, 19, 1, 40} {
		now := c.Advance(step * time.Millisecond)
		fired = append(fired, i.Due(now))
	}
	want := []bool{true, false, false, true, false, true, true}
	for n := range want {
		if fired[n] != want[n] {
			t.Errorf("tick %d: Due = %v, want %v (all: %v)", n, fired[n], want[n], fired)
		}
	}
	i.Reset()
	if !i.Due(c.Now()) {
		t.Errorf("Due after Reset = false")
	}
}

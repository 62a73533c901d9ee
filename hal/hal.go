// Package hal is the hardware boundary of the controller. Position and motion
// logic only see digital pins, analog inputs and short blocking delays.
package hal

import "time"

// Pin is a board-specific line number. NoPin marks an unconnected function.
type Pin int

const NoPin Pin = -1

type Mode int

const (
	Input Mode = iota
	InputPullUp
	Output
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case InputPullUp:
		return "input-pullup"
	case Output:
		return "output"
	}
	return "unknown"
}

// Board is the capability set the controller needs. Reads and writes do not
// fail: backends log transport problems and return the last known value.
type Board interface {
	Setup(pin Pin, mode Mode) error
	Write(pin Pin, high bool)
	Read(pin Pin) bool
	// ReadAnalog returns a 10-bit sample (0-1023).
	ReadAnalog(pin Pin) int
	// Delay blocks for d. Used for bit-clocking and step pulse timing.
	Delay(d time.Duration)
}

// SetupAll configures every connected pin with the same mode.
func SetupAll(b Board, mode Mode, pins ...Pin) error {
	for _, p := range pins {
		if p == NoPin {
			continue
		}
		if err := b.Setup(p, mode); err != nil {
			return err
		}
	}
	return nil
}

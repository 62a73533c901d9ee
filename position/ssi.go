package position

import (
	"time"

	"github.com/w1xm/eme_rotator/hal"
)

// SSIReader bit-bangs a Synchronous Serial Interface encoder.
type SSIReader struct {
	Board               hal.Board
	Select, Clock, Data hal.Pin
	// DataBits are read MSB first; the remaining clocks shift out status
	// and parity bits, which are discarded.
	DataBits   int
	Clocks     int
	HalfPeriod time.Duration
}

func NewSSIReader(b hal.Board, sel, clk, data hal.Pin) *SSIReader {
	return &SSIReader{
		Board:      b,
		Select:     sel,
		Clock:      clk,
		Data:       data,
		DataBits:   12,
		Clocks:     18,
		HalfPeriod: 5 * time.Microsecond,
	}
}

func (r *SSIReader) Setup() error {
	if err := hal.SetupAll(r.Board, hal.Output, r.Select, r.Clock); err != nil {
		return err
	}
	if err := r.Board.Setup(r.Data, hal.Input); err != nil {
		return err
	}
	r.Board.Write(r.Select, true)
	r.Board.Write(r.Clock, true)
	return nil
}

// Read clocks out one sample. Data is valid while the clock is low.
func (r *SSIReader) Read() int {
	b := r.Board
	b.Write(r.Select, false)
	b.Delay(r.HalfPeriod)
	v := 0
	for i := 0; i < r.Clocks; i++ {
		b.Write(r.Clock, false)
		b.Delay(r.HalfPeriod)
		if i < r.DataBits {
			v <<= 1
			if b.Read(r.Data) {
				v |= 1
			}
		}
		b.Write(r.Clock, true)
		b.Delay(r.HalfPeriod)
	}
	b.Write(r.Select, true)
	return v
}

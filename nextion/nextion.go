// Package nextion drives a Nextion touch panel showing the rotator position,
// with jog buttons and long-press calibration.
package nextion

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// Component ids of the panel layout.
const (
	IDAzCurrent = 1
	IDElCurrent = 3
	IDCW        = 6
	IDCCW       = 7
	IDUp        = 8
	IDDown      = 9
	IDStop      = 10
)

// Text colors, RGB565.
const (
	Blue   = 31
	Green  = 2016
	Red    = 63488
	Yellow = 65504
	White  = 65535
)

const touchEvent = 0x65

var terminator = []byte{0xFF, 0xFF, 0xFF}

// Event is a touch press or release on a component.
type Event struct {
	Page      byte
	Component byte
	Pressed   bool
}

// Display writes instructions to the panel.
type Display struct {
	w io.Writer
}

func NewDisplay(w io.Writer) *Display {
	return &Display{w: w}
}

// Open opens the serial port the panel is attached to.
func Open(port string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", port, err)
	}
	return p, nil
}

// Send writes one instruction followed by the terminator.
func (d *Display) Send(cmd string) error {
	if _, err := io.WriteString(d.w, cmd); err != nil {
		return err
	}
	_, err := d.w.Write(terminator)
	return err
}

func (d *Display) SetText(field, text string) error {
	return d.Send(fmt.Sprintf(`%s.txt="%s"`, field, text))
}

func (d *Display) SetColor(field string, color int) error {
	return d.Send(fmt.Sprintf("%s.pco=%d", field, color))
}

// ReadEvents decodes touch events from r until it fails or ctx is done.
// Bytes outside touch frames, such as instruction results, are skipped.
func ReadEvents(ctx context.Context, r io.Reader, events chan<- Event) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if b != touchEvent {
			continue
		}
		var frame [6]byte
		if _, err := io.ReadFull(br, frame[:]); err != nil {
			return err
		}
		if frame[3] != 0xFF || frame[4] != 0xFF || frame[5] != 0xFF {
			continue
		}
		ev := Event{Page: frame[0], Component: frame[1], Pressed: frame[2] == 1}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Package gpio drives the controller from Linux GPIO character devices, with
// analog inputs read from an IIO ADC.
package gpio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/eme_rotator/hal"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "rotatord"

type Board struct {
	// Chip is the gpiochip name, e.g. "gpiochip0".
	Chip string
	// IIODevice is the sysfs directory of the ADC, e.g. /sys/bus/iio/devices/iio:device0.
	IIODevice string
	// AnalogBits is the ADC resolution; samples are scaled to 10 bits.
	AnalogBits int

	mu     sync.Mutex
	lines  map[hal.Pin]*gpiocdev.Line
	values map[hal.Pin]int
}

func New(chip, iioDevice string, analogBits int) *Board {
	if analogBits == 0 {
		analogBits = 10
	}
	return &Board{
		Chip:       chip,
		IIODevice:  iioDevice,
		AnalogBits: analogBits,
		lines:      make(map[hal.Pin]*gpiocdev.Line),
		values:     make(map[hal.Pin]int),
	}
}

func (b *Board) Setup(pin hal.Pin, mode hal.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.lines[pin]; ok {
		l.Close()
		delete(b.lines, pin)
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer)}
	switch mode {
	case hal.Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	case hal.InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	default:
		opts = append(opts, gpiocdev.AsInput)
	}
	l, err := gpiocdev.RequestLine(b.Chip, int(pin), opts...)
	if err != nil {
		return fmt.Errorf("requesting %s line %d as %v: %w", b.Chip, pin, mode, err)
	}
	b.lines[pin] = l
	return nil
}

func (b *Board) Write(pin hal.Pin, high bool) {
	b.mu.Lock()
	l := b.lines[pin]
	b.mu.Unlock()
	if l == nil {
		return
	}
	v := 0
	if high {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		log.Printf("setting line %d: %v", pin, err)
	}
}

func (b *Board) Read(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.lines[pin]
	if l == nil {
		return false
	}
	v, err := l.Value()
	if err != nil {
		log.Printf("reading line %d: %v", pin, err)
		v = b.values[pin]
	}
	b.values[pin] = v
	return v != 0
}

// ReadAnalog reads in_voltage<pin>_raw from the IIO device.
func (b *Board) ReadAnalog(pin hal.Pin) int {
	path := filepath.Join(b.IIODevice, fmt.Sprintf("in_voltage%d_raw", pin))
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("reading %q: %v", path, err)
		return b.lastAnalog(pin)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		log.Printf("parsing %q: %v", path, err)
		return b.lastAnalog(pin)
	}
	if shift := b.AnalogBits - 10; shift > 0 {
		v >>= uint(shift)
	} else if shift < 0 {
		v <<= uint(-shift)
	}
	b.mu.Lock()
	b.values[-1-pin] = v
	b.mu.Unlock()
	return v
}

func (b *Board) lastAnalog(pin hal.Pin) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[-1-pin]
}

// Delay spins for short delays, where the scheduler is too coarse, and sleeps otherwise.
func (b *Board) Delay(d time.Duration) {
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for pin, l := range b.lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.lines, pin)
	}
	return firstErr
}

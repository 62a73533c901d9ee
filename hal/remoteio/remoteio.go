// Package remoteio drives the controller through a Modbus remote I/O module,
// typically mounted at the tower. Pins map to Modbus addresses: outputs are
// coils, inputs are discrete inputs and analog inputs are input registers.
//
// Inputs are polled in the background and reads return the latest poll, so
// the control loop never blocks on the bus. Writes go out immediately, which
// makes this backend suitable for limit circuits, potentiometers and the
// delegated motor mode, not for local step pulses.
package remoteio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/internal/modbus"
)

type Config struct {
	Port     string
	BaudRate int
	Address  string
	URL      string
	Password string
	SlaveId  byte

	// DiscreteInputs and InputRegisters are the number of addresses polled, starting at 0.
	DiscreteInputs uint16
	InputRegisters uint16
	// AnalogBits is the resolution of the module's ADC; samples are scaled to 10 bits.
	AnalogBits   int
	PollInterval time.Duration
}

type Board struct {
	cfg    Config
	client *modbus.Client

	// ready is closed after the first successful poll.
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	inputs    []bool
	registers []uint16
	outputs   map[hal.Pin]bool
}

func New(cfg Config) *Board {
	if cfg.AnalogBits == 0 {
		cfg.AnalogBits = 10
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	b := &Board{
		cfg:     cfg,
		ready:   make(chan struct{}),
		outputs: make(map[hal.Pin]bool),
	}
	b.client = &modbus.Client{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Address:  cfg.Address,
		URL:      cfg.URL,
		Password: cfg.Password,
		SlaveId:  cfg.SlaveId,
		Poll:     b.poll,
	}
	return b
}

// Connect starts the background reconnect and poll loop.
func (b *Board) Connect(ctx context.Context) error {
	return b.client.Connect(ctx)
}

// WaitReady blocks until the inputs have been polled once. Reads before
// that return zero values, which position estimators would take as real.
func (b *Board) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Board) poll() error {
	var inputs []bool
	var registers []uint16
	if n := b.cfg.DiscreteInputs; n > 0 {
		bs, err := b.client.ReadDiscreteInputs(0, n)
		if err != nil {
			return fmt.Errorf("reading discrete inputs: %w", err)
		}
		inputs = modbus.BytesToBits(bs)
	}
	if n := b.cfg.InputRegisters; n > 0 {
		bs, err := b.client.ReadInputRegisters(0, n)
		if err != nil {
			return fmt.Errorf("reading input registers: %w", err)
		}
		registers = modbus.BytesToRegisters(bs)
	}
	b.update(inputs, registers)
	time.Sleep(b.cfg.PollInterval)
	return nil
}

func (b *Board) update(inputs []bool, registers []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inputs != nil {
		b.inputs = inputs
	}
	if registers != nil {
		b.registers = registers
	}
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Board) Setup(pin hal.Pin, mode hal.Mode) error {
	switch mode {
	case hal.Output:
		return nil
	default:
		if uint16(pin) >= b.cfg.DiscreteInputs && uint16(pin) >= b.cfg.InputRegisters {
			return fmt.Errorf("pin %d is outside the polled range", pin)
		}
	}
	return nil
}

func (b *Board) Write(pin hal.Pin, high bool) {
	b.mu.Lock()
	if old, ok := b.outputs[pin]; ok && old == high {
		b.mu.Unlock()
		return
	}
	b.outputs[pin] = high
	b.mu.Unlock()
	if b.client.Client == nil {
		return
	}
	if err := b.client.WriteCoil(int(pin), high); err != nil {
		log.Printf("writing coil %d: %v", pin, err)
		b.mu.Lock()
		delete(b.outputs, pin)
		b.mu.Unlock()
	}
}

func (b *Board) Read(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(pin) < len(b.inputs) {
		return b.inputs[pin]
	}
	return false
}

func (b *Board) ReadAnalog(pin hal.Pin) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(pin) >= len(b.registers) {
		return 0
	}
	v := int(b.registers[pin])
	if shift := b.cfg.AnalogBits - 10; shift > 0 {
		v >>= uint(shift)
	} else if shift < 0 {
		v <<= uint(-shift)
	}
	if v > 1023 {
		v = 1023
	}
	return v
}

func (b *Board) Delay(d time.Duration) {
	time.Sleep(d)
}

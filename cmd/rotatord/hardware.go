package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/config"
	"github.com/w1xm/eme_rotator/controller"
	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/hal/gpio"
	"github.com/w1xm/eme_rotator/hal/remoteio"
	"github.com/w1xm/eme_rotator/hal/sim"
	"github.com/w1xm/eme_rotator/motion"
	"github.com/w1xm/eme_rotator/position"
	"github.com/w1xm/eme_rotator/rotator"
	"github.com/w1xm/eme_rotator/safety"
	"github.com/w1xm/eme_rotator/stepperlink"
)

// Mount is the assembled controller and the resources it holds open.
type Mount struct {
	Controller *controller.Controller
	Board      hal.Board
	// Link is set in delegated mode.
	Link *stepperlink.Link

	closers []io.Closer
}

func (m *Mount) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func axisRange(a *config.Axis) rotator.Range {
	return rotator.Range{Wrap: a.Wrap, Min: a.Min, Max: a.Max, SnapAbove: a.SnapAbove}
}

func tableSpec(a *config.Axis) calibration.TableSpec {
	if a.Sensor != config.SensorMultiTurnPot || a.TablePoints == 0 {
		return calibration.TableSpec{}
	}
	return calibration.TableSpec{
		Points:          a.TablePoints,
		Step:            a.TableStep,
		CountsPerDegree: a.GearRatio * position.ADCLevels / 360,
	}
}

// openBoard returns the I/O backend named by the configuration.
func openBoard(ctx context.Context, cfg *config.Config) (hal.Board, io.Closer, error) {
	switch cfg.Board.Type {
	case config.BoardSim:
		return newSimBoard(cfg), nil, nil
	case config.BoardRemoteIO:
		r := cfg.Board.RemoteIO
		b := remoteio.New(remoteio.Config{
			Port:           r.Port,
			BaudRate:       r.Baud,
			Address:        r.Address,
			URL:            r.URL,
			Password:       r.Password,
			SlaveId:        r.SlaveID,
			DiscreteInputs: r.DiscreteInputs,
			InputRegisters: r.InputRegisters,
			AnalogBits:     cfg.Board.AnalogBits,
			PollInterval:   r.PollInterval.Duration,
		})
		if err := b.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connecting remote I/O: %w", err)
		}
		log.Printf("waiting for first remote I/O poll")
		if err := b.WaitReady(ctx); err != nil {
			return nil, nil, fmt.Errorf("waiting for remote I/O: %w", err)
		}
		return b, nil, nil
	}
	b := gpio.New(cfg.Board.Chip, cfg.Board.IIODevice, cfg.Board.AnalogBits)
	return b, b, nil
}

// newSimBoard builds a simulated mount wired to the configured pins, so the
// daemon can run without hardware.
func newSimBoard(cfg *config.Config) *sim.Board {
	b := sim.New()
	for _, a := range cfg.Axes() {
		shaft := &sim.Shaft{
			DegreesPerStep: 0.01,
			SensorRatio:    a.GearRatio,
		}
		if !a.Wrap {
			shaft.Min, shaft.Max = a.Min, a.Max
		}
		b.AttachStepper(a.StepPin, a.DirPin, shaft)
		b.AttachLimit(a.LimitPin, shaft, cfg.LimitSafeLevel)
		switch a.Sensor {
		case config.SensorSSI, config.SensorSSITurns:
			b.AttachSSI(a.SSISelect, a.SSIClock, a.SSIData, shaft, 12)
		default:
			b.AttachPot(a.PotPin, shaft, a.Reverse)
		}
	}
	return b
}

func newEstimator(b hal.Board, st *calibration.Store, axis rotator.Axis, a *config.Axis) position.Estimator {
	switch a.Sensor {
	case config.SensorSSI, config.SensorSSITurns:
		return &position.SSIEncoder{
			Reader:     position.NewSSIReader(b, a.SSISelect, a.SSIClock, a.SSIData),
			Store:      st,
			Axis:       axis,
			GearRatio:  a.GearRatio,
			Reverse:    a.Reverse,
			TrackTurns: a.Sensor == config.SensorSSITurns,
			Range:      axisRange(a),
		}
	case config.SensorPot:
		return &position.Potentiometer{
			Board:   b,
			Pin:     a.PotPin,
			Reverse: a.Reverse,
			Samples: a.Samples,
			Span:    a.PotSpan,
			Range:   axisRange(a),
			Store:   st,
			Axis:    axis,
		}
	}
	return &position.MultiTurnPot{
		Board:        b,
		Pin:          a.PotPin,
		Reverse:      a.Reverse,
		Samples:      a.Samples,
		GearRatio:    a.GearRatio,
		Range:        axisRange(a),
		Store:        st,
		Axis:         axis,
		FilterWeight: a.FilterWeight,
	}
}

func openStorage(cfg *config.Config) (calibration.Storage, io.Closer, error) {
	if cfg.Storage.Path == "" {
		log.Print("no storage path configured; calibration will not survive a restart")
		return calibration.NewMemoryStorage(cfg.Storage.Size), nil, nil
	}
	f, err := calibration.OpenFile(cfg.Storage.Path, cfg.Storage.Size)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// NewMount assembles the controller described by cfg. The returned mount is
// initialized but its loop is not running.
func NewMount(ctx context.Context, cfg *config.Config) (*Mount, error) {
	m := &Mount{}
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	board, closer, err := openBoard(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.Board = board
	if closer != nil {
		m.closers = append(m.closers, closer)
	}

	storage, closer, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		m.closers = append(m.closers, closer)
	}
	st, err := calibration.NewStore(storage, tableSpec(&cfg.Azimuth), tableSpec(&cfg.Elevation), cfg.Storage.SaveInterval.Duration)
	if err != nil {
		return nil, err
	}

	var axes [2]*position.Axis
	var motionAxes [2]motion.AxisConfig
	for _, a := range rotator.Axes {
		ac := cfg.Axes()[a]
		axes[a] = position.NewAxis(a, newEstimator(board, st, a, ac), ac.SamplePeriod.Duration)
		motionAxes[a] = motion.AxisConfig{
			Wrap:            ac.Wrap,
			Tolerance:       ac.Tolerance,
			SwitchThreshold: ac.SwitchThreshold,
		}
	}

	mon := safety.NewMonitor(board, cfg.Azimuth.LimitPin, cfg.Elevation.LimitPin, cfg.LimitSafeLevel)
	if err := mon.Setup(); err != nil {
		return nil, fmt.Errorf("setting up limit inputs: %w", err)
	}

	var driver motion.Driver
	var delegated *motion.DelegatedDriver
	switch cfg.Motors.Mode {
	case config.MotorDelegated:
		if cfg.Board.Type == config.BoardSim {
			return nil, fmt.Errorf("simulated board needs %s motors", config.MotorDirect)
		}
		link, err := stepperlink.Open(cfg.Link.Port, cfg.Link.Baud)
		if err != nil {
			return nil, err
		}
		link.Timeout = cfg.Link.Timeout.Duration
		link.Board = board
		link.StatusPin = cfg.Link.StatusPin
		m.Link = link
		delegated = motion.NewDelegatedDriver(link)
		driver = delegated
	default:
		sd := motion.NewStepperDriver(board,
			motion.StepperAxis{Step: cfg.Azimuth.StepPin, Dir: cfg.Azimuth.DirPin, Invert: cfg.Azimuth.InvertDir},
			motion.StepperAxis{Step: cfg.Elevation.StepPin, Dir: cfg.Elevation.DirPin, Invert: cfg.Elevation.InvertDir},
			mon)
		sd.FastDelay = cfg.Motors.FastDelay.Duration
		sd.SlowDelay = cfg.Motors.SlowDelay.Duration
		sd.PulsesPerTick = cfg.Motors.PulsesPerTick
		sd.JogSteps = cfg.Motors.JogSteps
		if err := sd.Setup(); err != nil {
			return nil, fmt.Errorf("setting up stepper outputs: %w", err)
		}
		driver = sd
	}

	c := controller.New(axes, motion.NewController(motionAxes[0], motionAxes[1], driver), mon, st)
	c.TickPeriod = cfg.TickPeriod.Duration
	c.Link = m.Link
	c.Delegated = delegated
	c.Parser().MinMove = cfg.Easycom.MinMove
	for _, a := range rotator.Axes {
		c.Parser().Wrap[a] = cfg.Axes()[a].Wrap
	}
	if err := c.Initialize(); err != nil {
		return nil, err
	}
	m.Controller = c
	ok = true
	return m, nil
}

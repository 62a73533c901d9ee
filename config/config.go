// Package config holds the rotator configuration: sensor and motor
// selection, pin assignments, thresholds and the external interfaces.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/hal"
)

// MaxFileSize is the largest configuration file Load accepts.
const MaxFileSize = 1 << 20

// Sensor types.
const (
	SensorSSI          = "ssi"
	SensorSSITurns     = "ssi_turns"
	SensorPot          = "pot"
	SensorMultiTurnPot = "pot_multiturn"
)

// Motor modes.
const (
	MotorDirect    = "direct"
	MotorDelegated = "delegated"
)

// Board types.
const (
	BoardGPIO     = "gpio"
	BoardSim      = "sim"
	BoardRemoteIO = "remoteio"
)

// Duration is a time.Duration written as a string like "20ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Axis struct {
	Sensor  string `json:"sensor"`
	Reverse bool   `json:"reverse"`
	// GearRatio is sensor turns per antenna turn.
	GearRatio    float64  `json:"gear_ratio"`
	Samples      int      `json:"samples"`
	SamplePeriod Duration `json:"sample_period"`
	FilterWeight float64  `json:"filter_weight"`
	// PotSpan is the antenna travel of a single-turn pot's full scale.
	PotSpan float64 `json:"pot_span"`

	PotPin    hal.Pin `json:"pot_pin"`
	SSISelect hal.Pin `json:"ssi_select"`
	SSIClock  hal.Pin `json:"ssi_clock"`
	SSIData   hal.Pin `json:"ssi_data"`
	StepPin   hal.Pin `json:"step_pin"`
	DirPin    hal.Pin `json:"dir_pin"`
	InvertDir bool    `json:"invert_dir"`
	LimitPin  hal.Pin `json:"limit_pin"`

	Wrap      bool    `json:"wrap"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	SnapAbove float64 `json:"snap_above"`

	TablePoints int     `json:"table_points"`
	TableStep   float64 `json:"table_step"`

	Tolerance       float64 `json:"tolerance"`
	SwitchThreshold float64 `json:"switch_threshold"`
}

type Motors struct {
	Mode          string   `json:"mode"`
	FastDelay     Duration `json:"fast_delay"`
	SlowDelay     Duration `json:"slow_delay"`
	PulsesPerTick int      `json:"pulses_per_tick"`
	JogSteps      int      `json:"jog_steps"`
}

// Link is the serial link to the secondary stepper controller.
type Link struct {
	Port      string   `json:"port"`
	Baud      int      `json:"baud"`
	StatusPin hal.Pin  `json:"status_pin"`
	Timeout   Duration `json:"timeout"`
}

type RemoteIO struct {
	Port           string   `json:"port"`
	Baud           int      `json:"baud"`
	Address        string   `json:"address"`
	URL            string   `json:"url"`
	Password       string   `json:"password"`
	SlaveID        byte     `json:"slave_id"`
	DiscreteInputs uint16   `json:"discrete_inputs"`
	InputRegisters uint16   `json:"input_registers"`
	PollInterval   Duration `json:"poll_interval"`
}

type Board struct {
	Type       string   `json:"type"`
	Chip       string   `json:"chip"`
	IIODevice  string   `json:"iio_device"`
	AnalogBits int      `json:"analog_bits"`
	RemoteIO   RemoteIO `json:"remoteio"`
}

type Easycom struct {
	// Listen and Serial are mutually exclusive.
	Listen string `json:"listen"`
	Serial string `json:"serial"`
	Baud   int    `json:"baud"`
	// MinMove ignores goto commands closer than this to the current position. Zero disables the filter.
	MinMove float64 `json:"min_move"`
}

type Nextion struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

type Storage struct {
	Path         string   `json:"path"`
	Size         int      `json:"size"`
	SaveInterval Duration `json:"save_interval"`
}

type Config struct {
	Board     Board   `json:"board"`
	Azimuth   Axis    `json:"azimuth"`
	Elevation Axis    `json:"elevation"`
	Motors    Motors  `json:"motors"`
	Link      Link    `json:"link"`
	Easycom   Easycom `json:"easycom"`
	Nextion   Nextion `json:"nextion"`
	Storage   Storage `json:"storage"`
	// LimitSafeLevel is the level read while the limit circuit is closed.
	LimitSafeLevel bool     `json:"limit_safe_level"`
	TickPeriod     Duration `json:"tick_period"`
	HTTPListen     string   `json:"http_listen"`
	RotctldListen  string   `json:"rotctld_listen"`
}

// Axes returns the two axis sections indexed by rotator.Axis.
func (c *Config) Axes() [2]*Axis {
	return [2]*Axis{&c.Azimuth, &c.Elevation}
}

// Default returns the configuration of the reference station: multi-turn
// potentiometers on both axes behind a 10:1 reduction, local steppers.
func Default() Config {
	return Config{
		Board: Board{
			Type:       BoardGPIO,
			Chip:       "gpiochip0",
			IIODevice:  "/sys/bus/iio/devices/iio:device0",
			AnalogBits: 10,
			RemoteIO: RemoteIO{
				Baud:           19200,
				SlaveID:        1,
				DiscreteInputs: 8,
				InputRegisters: 4,
				PollInterval:   Duration{20 * time.Millisecond},
			},
		},
		Azimuth: Axis{
			Sensor:          SensorMultiTurnPot,
			Reverse:         true,
			GearRatio:       10,
			Samples:         16,
			SamplePeriod:    Duration{20 * time.Millisecond},
			FilterWeight:    0.25,
			PotSpan:         360,
			PotPin:          0,
			SSISelect:       hal.NoPin,
			SSIClock:        hal.NoPin,
			SSIData:         hal.NoPin,
			StepPin:         9,
			DirPin:          8,
			LimitPin:        10,
			Wrap:            true,
			SnapAbove:       359.5,
			TablePoints:     35,
			TableStep:       10,
			Tolerance:       0.1,
			SwitchThreshold: 3,
		},
		Elevation: Axis{
			Sensor:          SensorMultiTurnPot,
			GearRatio:       10,
			Samples:         8,
			SamplePeriod:    Duration{20 * time.Millisecond},
			FilterWeight:    0.25,
			PotSpan:         360,
			PotPin:          1,
			SSISelect:       hal.NoPin,
			SSIClock:        hal.NoPin,
			SSIData:         hal.NoPin,
			StepPin:         13,
			DirPin:          12,
			LimitPin:        11,
			Min:             -15,
			Max:             95,
			TablePoints:     10,
			TableStep:       10,
			Tolerance:       0.1,
			SwitchThreshold: 3,
		},
		Motors: Motors{
			Mode:          MotorDirect,
			FastDelay:     Duration{50 * time.Microsecond},
			SlowDelay:     Duration{200 * time.Microsecond},
			PulsesPerTick: 1,
			JogSteps:      20,
		},
		Link: Link{
			Port:      "/dev/ttyUSB1",
			Baud:      115200,
			StatusPin: 22,
			Timeout:   Duration{2 * time.Second},
		},
		Easycom: Easycom{
			Listen: ":4533",
			Baud:   9600,
		},
		Nextion: Nextion{
			Baud: 9600,
		},
		Storage: Storage{
			Path:         "rotator.cal",
			Size:         1024,
			SaveInterval: Duration{5 * time.Second},
		},
		TickPeriod: Duration{1 * time.Millisecond},
		HTTPListen: "127.0.0.1:8502",
	}
}

// Load reads a JSON configuration. Fields missing from the file keep their
// Default values.
func Load(path string) (Config, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *Axis) validate(name string) error {
	switch a.Sensor {
	case SensorSSI, SensorSSITurns:
		if a.SSISelect == hal.NoPin || a.SSIClock == hal.NoPin || a.SSIData == hal.NoPin {
			return fmt.Errorf("%s: ssi sensor needs ssi_select, ssi_clock and ssi_data", name)
		}
	case SensorPot, SensorMultiTurnPot:
		if a.PotPin == hal.NoPin {
			return fmt.Errorf("%s: pot sensor needs pot_pin", name)
		}
	default:
		return fmt.Errorf("%s: unknown sensor %q", name, a.Sensor)
	}
	if a.GearRatio <= 0 {
		return fmt.Errorf("%s: gear_ratio must be positive, got %g", name, a.GearRatio)
	}
	if a.Samples < 1 {
		return fmt.Errorf("%s: samples must be at least 1, got %d", name, a.Samples)
	}
	if a.SamplePeriod.Duration <= 0 {
		return fmt.Errorf("%s: sample_period must be positive", name)
	}
	if a.FilterWeight <= 0 || a.FilterWeight > 1 {
		return fmt.Errorf("%s: filter_weight must be in (0, 1], got %g", name, a.FilterWeight)
	}
	if !a.Wrap && a.Max <= a.Min {
		return fmt.Errorf("%s: max %g must exceed min %g", name, a.Max, a.Min)
	}
	if a.TablePoints < 0 || (a.TablePoints > 0 && a.TableStep <= 0) {
		return fmt.Errorf("%s: table needs a positive table_step", name)
	}
	if a.TablePoints > 0 && a.Sensor != SensorMultiTurnPot {
		return fmt.Errorf("%s: correction table requires a %s sensor", name, SensorMultiTurnPot)
	}
	if a.Tolerance <= 0 {
		return fmt.Errorf("%s: tolerance must be positive, got %g", name, a.Tolerance)
	}
	if a.SwitchThreshold < a.Tolerance {
		return fmt.Errorf("%s: switch_threshold %g is below tolerance %g", name, a.SwitchThreshold, a.Tolerance)
	}
	return nil
}

// Validate returns the first inconsistency in the configuration.
func (c *Config) Validate() error {
	switch c.Board.Type {
	case BoardGPIO, BoardSim:
	case BoardRemoteIO:
		r := c.Board.RemoteIO
		if r.Port == "" && r.Address == "" && r.URL == "" {
			return errors.New("remoteio board needs a port, address or url")
		}
	default:
		return fmt.Errorf("unknown board type %q", c.Board.Type)
	}
	if err := c.Azimuth.validate("azimuth"); err != nil {
		return err
	}
	if err := c.Elevation.validate("elevation"); err != nil {
		return err
	}
	switch c.Motors.Mode {
	case MotorDirect:
		if c.Board.Type == BoardRemoteIO {
			return errors.New("remoteio board cannot pulse steppers; use delegated motors")
		}
		for _, a := range c.Axes() {
			if a.StepPin == hal.NoPin || a.DirPin == hal.NoPin {
				return errors.New("direct motors need step_pin and dir_pin on both axes")
			}
		}
		if c.Motors.JogSteps < 1 || c.Motors.PulsesPerTick < 1 {
			return errors.New("jog_steps and pulses_per_tick must be at least 1")
		}
	case MotorDelegated:
		if c.Link.Port == "" {
			return errors.New("delegated motors need a link port")
		}
	default:
		return fmt.Errorf("unknown motor mode %q", c.Motors.Mode)
	}
	if c.Easycom.Listen != "" && c.Easycom.Serial != "" {
		return errors.New("easycom listen and serial are mutually exclusive")
	}
	if c.Easycom.MinMove < 0 {
		return fmt.Errorf("min_move must not be negative, got %g", c.Easycom.MinMove)
	}
	if c.Storage.Size < calibration.MinSize {
		return fmt.Errorf("storage size must be at least %d, got %d", calibration.MinSize, c.Storage.Size)
	}
	if c.TickPeriod.Duration <= 0 {
		return errors.New("tick_period must be positive")
	}
	return nil
}

package easycomm

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/rotator"
)

// Protocol docs at https://github.com/Hamlib/Hamlib/blob/master/rotators/easycomm/easycomm.txt
// The dialect here is the one spoken by PstRotator and K3NG controllers,
// extended with calibration and correction table commands.

// Handler is the rotator state a Parser acts on.
type Handler interface {
	Position() [2]float64
	SetTarget(a rotator.Axis, deg float64)
	ClearTarget(a rotator.Axis)
	Stop() error
	ResetCalibration() error
	Calibrate(a rotator.Axis, deg float64) error
	CalibrateTablePoint(a rotator.Axis, deg float64) error
	ResetTable(a rotator.Axis) error
	Table(a rotator.Axis) (calibration.Table, bool)
	Accumulator(a rotator.Axis) int64
}

// Parser executes Easycom command lines against a Handler.
type Parser struct {
	Handler Handler
	// MinMove, when positive, turns a goto closer than MinMove degrees to
	// the current angle into a cancel.
	MinMove float64
	// Wrap marks axes whose angle wraps at 360.
	Wrap [2]bool

	Logf func(format string, v ...interface{})
}

func NewParser(h Handler) *Parser {
	return &Parser{
		Handler: h,
		Wrap:    [2]bool{true, false},
		Logf:    log.Printf,
	}
}

var stopWords = map[string]bool{"S": true, "SA": true, "SE": true, "STOP": true}

// tablePrefix is the letter of the table commands of each axis.
var tablePrefix = [2]string{"C", "E"}

// Response formats the position reply.
func Response(pos [2]float64) string {
	return fmt.Sprintf("AZ%.1f EL%.1f\r\n", pos[rotator.Azimuth], pos[rotator.Elevation])
}

// Execute runs one command line and returns the text to send back. Empty
// lines produce no reply; every other line ends with a position response.
// Unrecognized commands are ignored.
func (p *Parser) Execute(line string) string {
	cmd := strings.ToUpper(strings.TrimSpace(line))
	if cmd == "" {
		return ""
	}
	prefix, err := p.execute(cmd)
	if err != nil {
		p.Logf("executing %q: %v", cmd, err)
	}
	return prefix + Response(p.Handler.Position())
}

func (p *Parser) execute(cmd string) (string, error) {
	h := p.Handler
	if isStop(cmd) {
		return "", h.Stop()
	}
	switch cmd {
	case "RESET", "RESET_EEPROM":
		return "", h.ResetCalibration()
	case "CTABLE":
		return p.dump(rotator.Azimuth)
	case "ETABLE":
		return p.dump(rotator.Elevation)
	case "CRESET":
		return "", h.ResetTable(rotator.Azimuth)
	case "ERESET":
		return "", h.ResetTable(rotator.Elevation)
	}
	if len(cmd) > 1 && cmd[0] == 'Z' {
		if deg, ok := parseNumber(cmd[1:]); ok {
			return "", h.Calibrate(rotator.Azimuth, deg)
		}
		return "", nil
	}
	if len(cmd) > 1 && cmd[0] == 'S' && isDigit(cmd[1]) {
		if deg, ok := parseNumber(cmd[1:]); ok {
			return "", h.Calibrate(rotator.Elevation, deg)
		}
		return "", nil
	}
	for _, a := range rotator.Axes {
		if !strings.HasPrefix(cmd, tablePrefix[a]) {
			continue
		}
		deg, ok := parseNumber(cmd[1:])
		if !ok {
			continue
		}
		if _, hasTable := h.Table(a); hasTable {
			return "", h.CalibrateTablePoint(a, deg)
		}
		return "", nil
	}
	for _, a := range rotator.Axes {
		i := strings.Index(cmd, a.String())
		if i < 0 {
			continue
		}
		num := scanNumber(cmd[i+2:])
		if num == "" {
			// Query.
			continue
		}
		deg, ok := parseNumber(num)
		if !ok {
			continue
		}
		p.goTo(a, deg)
	}
	return "", nil
}

func (p *Parser) goTo(a rotator.Axis, deg float64) {
	if p.MinMove > 0 {
		err := deg - p.Handler.Position()[a]
		if p.Wrap[a] {
			err = math.Remainder(err, 360)
		}
		if math.Abs(err) < p.MinMove {
			p.Handler.ClearTarget(a)
			return
		}
	}
	p.Handler.SetTarget(a, deg)
}

func isStop(cmd string) bool {
	for _, f := range strings.Fields(cmd) {
		if !stopWords[f] {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// scanNumber returns the run of digits, '.' and '-' at the start of s,
// after any leading spaces.
func scanNumber(s string) string {
	s = strings.TrimLeft(s, " ")
	end := 0
	for end < len(s) && (isDigit(s[end]) || s[end] == '.' || s[end] == '-') {
		end++
	}
	return s[:end]
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (p *Parser) dump(a rotator.Axis) (string, error) {
	t, ok := p.Handler.Table(a)
	if !ok {
		return "", calibration.ErrNoTable
	}
	return FormatTable(a, t, p.Handler.Position()[a], p.Handler.Accumulator(a)), nil
}

// FormatTable renders a correction table with the deltas between
// consecutive entries, followed by the current angle and accumulator.
func FormatTable(a rotator.Axis, t calibration.Table, deg float64, acc int64) string {
	name := "Az"
	if a == rotator.Elevation {
		name = "El"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s correction table (angle adc delta):\r\n", name)
	for i, v := range t.Values {
		var delta int32
		if i > 0 {
			delta = v - t.Values[i-1]
		}
		fmt.Fprintf(&b, "%g %d %+d\r\n", t.Angle(i), v, delta)
	}
	fmt.Fprintf(&b, "Pos: %.1f ADC: %d\r\n", deg, acc)
	return b.String()
}

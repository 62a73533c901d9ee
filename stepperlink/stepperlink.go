// Package stepperlink talks to a secondary microcontroller that generates
// step pulses on its own. The primary sends combined two-axis direction and
// speed commands and receives acknowledgements and limit notifications.
//
// Outbound:
//
//	M:<dirAz>:<dirEl>:<speed>\n
//
// Inbound:
//
//	OK
//	READY
//	LIMIT:AZ:CW   LIMIT:AZ:CCW   LIMIT:EL:UP   LIMIT:EL:DOWN
//	CLEAR:AZ:CW   ...
package stepperlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/eme_rotator/hal"
	"github.com/w1xm/eme_rotator/rotator"
	"golang.org/x/sync/errgroup"
)

// Speed tiers understood by the secondary controller.
const (
	SpeedSlow   = 0
	SpeedFast   = 1
	SpeedManual = 2
)

type Command struct {
	Az, El rotator.Direction
	Speed  int
}

// Stop is the all-axes stop command.
var Stop = Command{}

func (c Command) String() string {
	return fmt.Sprintf("M:%d:%d:%d", c.Az, c.El, c.Speed)
}

type EventKind int

const (
	Ack EventKind = iota
	Ready
	Limit
	Clear
)

type Event struct {
	Kind      EventKind
	Axis      rotator.Axis
	Direction rotator.Direction
}

var errUnknown = errors.New("unknown message")

// ParseEvent decodes one inbound line.
func ParseEvent(line string) (Event, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "OK":
		return Event{Kind: Ack}, nil
	case "READY":
		return Event{Kind: Ready}, nil
	}
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return Event{}, errUnknown
	}
	var ev Event
	switch parts[0] {
	case "LIMIT":
		ev.Kind = Limit
	case "CLEAR":
		ev.Kind = Clear
	default:
		return Event{}, errUnknown
	}
	axis, dir, ok := rotator.ParseDirection(parts[2])
	if !ok || axis.String() != parts[1] {
		return Event{}, fmt.Errorf("bad limit %q", line)
	}
	ev.Axis, ev.Direction = axis, dir
	return ev, nil
}

// Link is the primary side of the protocol. Run reads the port in the
// background; Poll and Send are called from the control loop.
type Link struct {
	conn io.ReadWriteCloser

	// Timeout after the last received line before the link is reported unhealthy.
	Timeout time.Duration
	// Board and StatusPin, if set, mirror the health flag on an output.
	Board     hal.Board
	StatusPin hal.Pin
	Logf      func(format string, v ...interface{})

	lines chan string

	mu       sync.Mutex
	last     Command
	sent     bool
	lastRx   time.Time
	lastBeat time.Time
	healthy  bool
}

func New(conn io.ReadWriteCloser) *Link {
	return &Link{
		conn:      conn,
		Timeout:   2 * time.Second,
		StatusPin: hal.NoPin,
		Logf:      log.Printf,
		lines:     make(chan string, 64),
	}
}

// Open opens the serial port of the secondary controller.
func Open(port string, baud int) (*Link, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", port, err)
	}
	return New(p), nil
}

func (l *Link) Setup() error {
	if l.Board == nil || l.StatusPin == hal.NoPin {
		return nil
	}
	if err := l.Board.Setup(l.StatusPin, hal.Output); err != nil {
		return err
	}
	l.Board.Write(l.StatusPin, false)
	return nil
}

// Run reads lines from the secondary controller until ctx is done or the
// port fails.
func (l *Link) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return l.conn.Close()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(l.conn)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case l.lines <- line:
			default:
				l.Logf("secondary controller: dropping %q", line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading secondary controller: %w", err)
		}
		return io.EOF
	})
	return g.Wait()
}

// Send writes a command and remembers it for heartbeats.
func (l *Link) Send(c Command) error {
	l.mu.Lock()
	l.last = c
	l.sent = true
	l.mu.Unlock()
	return l.write(c)
}

func (l *Link) write(c Command) error {
	if _, err := fmt.Fprintf(l.conn, "%s\n", c); err != nil {
		return fmt.Errorf("writing %q: %w", c, err)
	}
	return nil
}

// Poll returns the events received since the last call and updates the
// health flag. While no line has arrived for half the timeout, the last
// command is repeated so an idle link keeps being acknowledged.
func (l *Link) Poll(now time.Time) []Event {
	var events []Event
	received := false
	for {
		var line string
		select {
		case line = <-l.lines:
		default:
		}
		if line == "" {
			break
		}
		received = true
		ev, err := ParseEvent(line)
		if err != nil {
			l.Logf("secondary controller: %q: %v", line, err)
			continue
		}
		events = append(events, ev)
	}

	l.mu.Lock()
	if received {
		l.lastRx = now
	}
	healthy := received || (l.healthy && now.Sub(l.lastRx) <= l.Timeout)
	changed := healthy != l.healthy
	l.healthy = healthy
	heartbeat := l.sent && now.Sub(l.lastRx) > l.Timeout/2 && now.Sub(l.lastBeat) > l.Timeout/2
	last := l.last
	if heartbeat {
		l.lastBeat = now
	}
	l.mu.Unlock()

	if changed {
		if healthy {
			l.Logf("secondary controller connected")
		} else {
			l.Logf("secondary controller timed out after %v", l.Timeout)
		}
		if l.Board != nil && l.StatusPin != hal.NoPin {
			l.Board.Write(l.StatusPin, healthy)
		}
	}
	if heartbeat {
		if err := l.write(last); err != nil {
			l.Logf("secondary controller heartbeat: %v", err)
		}
	}
	return events
}

// Healthy reports whether a line arrived within the timeout.
func (l *Link) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.healthy
}

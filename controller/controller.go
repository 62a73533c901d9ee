// Package controller runs the control loop. One goroutine owns the
// position, target and limit state; everything else talks to it through
// requests executed between ticks.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/w1xm/eme_rotator/calibration"
	"github.com/w1xm/eme_rotator/easycomm"
	"github.com/w1xm/eme_rotator/internal/clock"
	"github.com/w1xm/eme_rotator/motion"
	"github.com/w1xm/eme_rotator/position"
	"github.com/w1xm/eme_rotator/rotator"
	"github.com/w1xm/eme_rotator/safety"
	"github.com/w1xm/eme_rotator/stepperlink"
)

// ErrStopped is returned for requests made after the loop has exited.
var ErrStopped = errors.New("controller stopped")

type request struct {
	fn    func() error
	reply chan error
}

type Controller struct {
	Axes   [2]*position.Axis
	Motion *motion.Controller
	Safety *safety.Monitor
	Store  *calibration.Store
	// Link and Delegated are set when a secondary controller drives the motors.
	Link      *stepperlink.Link
	Delegated *motion.DelegatedDriver

	Clock clock.Clock
	// TickPeriod is the control loop period.
	TickPeriod time.Duration
	Logf       func(format string, v ...interface{})

	parser     *easycomm.Parser
	requests   chan request
	done       chan struct{}
	publishing *clock.Interval
	lastErr    string

	displayOffset        float64
	displayOffsetEnabled bool
	clientConnected      bool

	statusMu  sync.Mutex
	status    rotator.Status
	callbacks []rotator.StatusCallback
}

func New(axes [2]*position.Axis, m *motion.Controller, s *safety.Monitor, st *calibration.Store) *Controller {
	c := &Controller{
		Axes:       axes,
		Motion:     m,
		Safety:     s,
		Store:      st,
		Clock:      clock.Real{},
		TickPeriod: 1 * time.Millisecond,
		Logf:       log.Printf,
		requests:   make(chan request),
		done:       make(chan struct{}),
		publishing: clock.NewInterval(100 * time.Millisecond),
	}
	c.parser = easycomm.NewParser(handler{c})
	return c
}

// Parser returns the Easycom parser, for configuring its policy.
func (c *Controller) Parser() *easycomm.Parser {
	return c.parser
}

// Initialize loads the persisted calibration into both axes.
func (c *Controller) Initialize() error {
	data, err := c.Store.Load()
	if err != nil {
		return fmt.Errorf("loading calibration: %w", err)
	}
	for _, a := range rotator.Axes {
		if err := c.Axes[a].Initialize(data.Axes[a]); err != nil {
			return err
		}
	}
	c.displayOffset = float64(data.DisplayOffset)
	c.displayOffsetEnabled = data.DisplayOffsetEnabled
	if c.Link != nil {
		if err := c.Link.Setup(); err != nil {
			return fmt.Errorf("setting up secondary controller link: %w", err)
		}
	}
	c.publish()
	return nil
}

func (c *Controller) current() [2]float64 {
	return [2]float64{c.Axes[0].Degrees(), c.Axes[1].Degrees()}
}

// Step runs one control tick. It must only be called from the loop, or
// from tests before Run.
func (c *Controller) Step(now time.Time) {
	for _, a := range rotator.Axes {
		c.Axes[a].Tick(now)
	}
	if c.Link != nil {
		for _, ev := range c.Link.Poll(now) {
			c.apply(ev)
		}
	}
	limits := c.Safety.Poll()
	c.report(c.Motion.Tick(c.current(), limits))
	if err := c.Store.FlushDue(now); err != nil {
		c.Logf("saving calibration: %v", err)
	}
	if c.publishing.Due(now) {
		c.publish()
	}
}

// report logs motor errors once until they change.
func (c *Controller) report(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg != c.lastErr && msg != "" {
		c.Logf("driving motors: %s", msg)
	}
	c.lastErr = msg
}

func (c *Controller) apply(ev stepperlink.Event) {
	switch ev.Kind {
	case stepperlink.Ready:
		c.Logf("secondary controller ready")
		if c.Delegated != nil {
			c.Delegated.Forget()
		}
	case stepperlink.Limit:
		c.Safety.SetReported(ev.Axis, ev.Direction, true)
		if c.Delegated != nil {
			if err := c.Delegated.Zero(ev.Axis, ev.Direction); err != nil {
				c.Logf("releasing %s %s: %v", ev.Axis, ev.Direction.Name(ev.Axis), err)
			}
		}
	case stepperlink.Clear:
		c.Safety.SetReported(ev.Axis, ev.Direction, false)
	}
}

// Run executes ticks and requests until ctx is done. On exit the motors are
// halted and pending calibration is saved.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	ticker := time.NewTicker(c.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := c.Motion.StopAll(); err != nil {
				c.Logf("stopping motors: %v", err)
			}
			if err := c.Store.Flush(); err != nil {
				c.Logf("saving calibration: %v", err)
			}
			return ctx.Err()
		case req := <-c.requests:
			err := req.fn()
			c.publish()
			req.reply <- err
		case <-ticker.C:
			c.Step(c.Clock.Now())
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs one Easycom command line and returns the reply.
func (c *Controller) Execute(ctx context.Context, line string) (string, error) {
	var reply string
	err := c.do(ctx, func() error {
		reply = c.parser.Execute(line)
		return nil
	})
	return reply, err
}

func (c *Controller) SetTarget(ctx context.Context, a rotator.Axis, deg float64) error {
	return c.do(ctx, func() error {
		c.Motion.SetTarget(a, deg)
		return nil
	})
}

func (c *Controller) StopAll(ctx context.Context) error {
	return c.do(ctx, c.Motion.StopAll)
}

// Jog moves an axis manually, cancelling automatic targets. Jogging with
// rotator.Still releases a held jog.
func (c *Controller) Jog(ctx context.Context, a rotator.Axis, d rotator.Direction) error {
	return c.do(ctx, func() error {
		if d != rotator.Still && c.Safety.State().Blocked(a, d) {
			return fmt.Errorf("%s: limit tripped", d.Name(a))
		}
		return c.Motion.Jog(a, d)
	})
}

// Calibrate redefines the current position of an axis.
func (c *Controller) Calibrate(ctx context.Context, a rotator.Axis, deg float64) error {
	return c.do(ctx, func() error {
		return c.Axes[a].Calibrate(deg)
	})
}

// SetDisplayOffset changes and persists the azimuth offset shown on the
// front panel.
func (c *Controller) SetDisplayOffset(ctx context.Context, offset float64, enabled bool) error {
	return c.do(ctx, func() error {
		if err := c.Store.SaveDisplayOffset(float32(offset), enabled); err != nil {
			return err
		}
		c.displayOffset, c.displayOffsetEnabled = offset, enabled
		return nil
	})
}

// SetClientConnected records whether a tracking client is connected.
func (c *Controller) SetClientConnected(connected bool) {
	ctx := context.Background()
	if err := c.do(ctx, func() error {
		c.clientConnected = connected
		return nil
	}); err != nil && err != ErrStopped {
		c.Logf("recording client state: %v", err)
	}
}

// rotator.Rotator, for callers without a context.

func (c *Controller) Stop() {
	if err := c.StopAll(context.Background()); err != nil {
		c.Logf("stop: %v", err)
	}
}

func (c *Controller) SetAzimuthPosition(angle float64) {
	if err := c.SetTarget(context.Background(), rotator.Azimuth, angle); err != nil {
		c.Logf("set azimuth: %v", err)
	}
}

func (c *Controller) SetElevationPosition(angle float64) {
	if err := c.SetTarget(context.Background(), rotator.Elevation, angle); err != nil {
		c.Logf("set elevation: %v", err)
	}
}

func (c *Controller) snapshot() rotator.Status {
	pos := c.current()
	limits := c.Safety.State()
	s := rotator.Status{
		AzPos: pos[rotator.Azimuth],
		ElPos: pos[rotator.Elevation],

		RawAz: c.Axes[rotator.Azimuth].Raw(),
		RawEl: c.Axes[rotator.Elevation].Raw(),

		AzimuthCW:      limits.Blocked(rotator.Azimuth, rotator.Positive),
		AzimuthCCW:     limits.Blocked(rotator.Azimuth, rotator.Negative),
		ElevationUpper: limits.Blocked(rotator.Elevation, rotator.Positive),
		ElevationLower: limits.Blocked(rotator.Elevation, rotator.Negative),

		Delegated:       c.Link != nil,
		ClientConnected: c.clientConnected,

		DisplayOffset:        c.displayOffset,
		DisplayOffsetEnabled: c.displayOffsetEnabled,
	}
	s.CommandAzPos, s.AzTracking = c.Motion.Target(rotator.Azimuth)
	s.CommandElPos, s.ElTracking = c.Motion.Target(rotator.Elevation)
	s.AzState = c.Motion.State(rotator.Azimuth).String()
	s.ElState = c.Motion.State(rotator.Elevation).String()
	if c.Link != nil {
		s.LinkHealthy = c.Link.Healthy()
	}
	return s
}

// publish updates the status snapshot and notifies subscribers if it changed.
func (c *Controller) publish() {
	s := c.snapshot()
	c.statusMu.Lock()
	changed := s != c.status
	c.status = s
	callbacks := c.callbacks
	c.statusMu.Unlock()
	if !changed {
		return
	}
	for _, cb := range callbacks {
		cb(s)
	}
}

// Status returns the last published snapshot.
func (c *Controller) Status() rotator.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// OnStatus registers a callback run on the loop goroutine for every changed
// snapshot. Callbacks must not block or call back into the controller.
func (c *Controller) OnStatus(cb rotator.StatusCallback) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

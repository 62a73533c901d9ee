package nextion

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/w1xm/eme_rotator/internal/clock"
	"github.com/w1xm/eme_rotator/rotator"
	"golang.org/x/sync/errgroup"
)

// Rotator is the controller as seen by the panel.
type Rotator interface {
	Status() rotator.Status
	Jog(ctx context.Context, a rotator.Axis, d rotator.Direction) error
	StopAll(ctx context.Context) error
	Calibrate(ctx context.Context, a rotator.Axis, deg float64) error
}

var (
	currentField = [2]string{"tAzCur", "tElCur"}
	targetField  = [2]string{"tAzTgt", "tElTgt"}
)

type button struct {
	axis rotator.Axis
	dir  rotator.Direction
}

var buttons = map[byte]button{
	IDCW:   {rotator.Azimuth, rotator.Positive},
	IDCCW:  {rotator.Azimuth, rotator.Negative},
	IDUp:   {rotator.Elevation, rotator.Positive},
	IDDown: {rotator.Elevation, rotator.Negative},
}

// Panel keeps the display up to date and turns touches into rotator
// requests. Its methods are called from a single goroutine.
type Panel struct {
	Display *Display
	Rotator Rotator
	Clock   clock.Clock
	// LongPress is how long a position field must be held to calibrate it to 0.
	LongPress time.Duration
	Logf      func(format string, v ...interface{})

	refresh    *clock.Interval
	status     string
	statusHold time.Time
	mode       string
	held       *button
	touching   [2]bool
	touchStart [2]time.Time
	feedback   [2]bool
	restore    [2]time.Time
}

func NewPanel(r Rotator) *Panel {
	return &Panel{
		Rotator:   r,
		Clock:     clock.Real{},
		LongPress: 3 * time.Second,
		Logf:      log.Printf,
		refresh:   clock.NewInterval(500 * time.Millisecond),
	}
}

// Init shows the home page with empty fields.
func (p *Panel) Init() error {
	for _, cmd := range []string{
		"page 0",
		`tTitle.txt="EME ROTATOR"`,
		`tAzCur.txt="---"`,
		`tAzTgt.txt="---"`,
		`tElCur.txt="---"`,
		`tElTgt.txt="---"`,
		`tStatus.txt="INIT"`,
	} {
		if err := p.Display.Send(cmd); err != nil {
			return err
		}
	}
	p.status, p.mode = "", ""
	return nil
}

func degrees(v float64) string {
	return fmt.Sprintf("%.1f\xb0", v)
}

// statusText picks the status line: tripped limits first, then whether a
// tracking client is connected.
func statusText(s rotator.Status) (string, int) {
	var tripped []string
	for _, l := range []struct {
		on   bool
		name string
	}{
		{s.AzimuthCW, "LIM CW!"},
		{s.AzimuthCCW, "LIM CCW!"},
		{s.ElevationUpper, "LIM UP!"},
		{s.ElevationLower, "LIM DN!"},
	} {
		if l.on {
			tripped = append(tripped, l.name)
		}
	}
	switch {
	case len(tripped) > 1:
		return "LIMIT!", Red
	case len(tripped) == 1:
		return tripped[0], Red
	case s.ClientConnected:
		return "PST OK", Green
	}
	return "PST DISC", Yellow
}

func (p *Panel) modeText(s rotator.Status) (string, int) {
	switch {
	case p.held != nil:
		return "MANUAL", Blue
	case s.Moving():
		return "AUTO", Green
	}
	return "STOP", White
}

// Refresh redraws the position fields and, when changed, the status and
// mode lines.
func (p *Panel) Refresh() error {
	s := p.Rotator.Status()
	cur := [2]float64{s.AzPos, s.ElPos}
	tgt := [2]float64{s.CommandAzPos, s.CommandElPos}
	tracking := [2]bool{s.AzTracking, s.ElTracking}
	if s.DisplayOffsetEnabled {
		cur[rotator.Azimuth] = rotator.AddOffset(cur[rotator.Azimuth], s.DisplayOffset)
		tgt[rotator.Azimuth] = rotator.AddOffset(tgt[rotator.Azimuth], s.DisplayOffset)
	}
	for _, a := range rotator.Axes {
		if !p.feedback[a] {
			if err := p.Display.SetText(currentField[a], degrees(cur[a])); err != nil {
				return err
			}
		}
		text := "---"
		if tracking[a] {
			text = degrees(tgt[a])
		}
		if err := p.Display.SetText(targetField[a], text); err != nil {
			return err
		}
	}
	if text, color := statusText(s); text != p.status && !p.Clock.Now().Before(p.statusHold) {
		p.status = text
		if err := p.setField("tStatus", text, color); err != nil {
			return err
		}
	}
	if text, color := p.modeText(s); text != p.mode {
		p.mode = text
		if err := p.setField("tMode", text, color); err != nil {
			return err
		}
	}
	return nil
}

func (p *Panel) setField(field, text string, color int) error {
	if err := p.Display.SetText(field, text); err != nil {
		return err
	}
	return p.Display.SetColor(field, color)
}

// HandleEvent acts on one touch event.
func (p *Panel) HandleEvent(ctx context.Context, ev Event) error {
	now := p.Clock.Now()
	if b, ok := buttons[ev.Component]; ok {
		if ev.Pressed {
			return p.press(ctx, b)
		}
		return p.release(ctx, b)
	}
	switch ev.Component {
	case IDStop:
		if !ev.Pressed {
			return nil
		}
		p.held = nil
		return p.Rotator.StopAll(ctx)
	case IDAzCurrent:
		p.touch(rotator.Azimuth, ev.Pressed, now)
	case IDElCurrent:
		p.touch(rotator.Elevation, ev.Pressed, now)
	}
	return nil
}

// press starts a jog. Only one button is active at a time.
func (p *Panel) press(ctx context.Context, b button) error {
	if p.held != nil && *p.held != b {
		if err := p.Rotator.Jog(ctx, p.held.axis, rotator.Still); err != nil {
			return err
		}
	}
	p.held = &b
	return p.Rotator.Jog(ctx, b.axis, b.dir)
}

func (p *Panel) release(ctx context.Context, b button) error {
	if p.held == nil || *p.held != b {
		return nil
	}
	p.held = nil
	return p.Rotator.Jog(ctx, b.axis, rotator.Still)
}

func (p *Panel) touch(a rotator.Axis, pressed bool, now time.Time) {
	p.touching[a] = pressed
	p.touchStart[a] = now
	if !pressed && p.feedback[a] {
		p.feedback[a] = false
		p.restore[a] = now
	}
}

// Tick runs long-press calibration and the periodic refresh.
func (p *Panel) Tick(ctx context.Context) error {
	now := p.Clock.Now()
	for _, a := range rotator.Axes {
		if !p.restore[a].IsZero() && !now.Before(p.restore[a]) {
			p.restore[a] = time.Time{}
			if err := p.Display.SetColor(currentField[a], White); err != nil {
				return err
			}
		}
		if !p.touching[a] {
			continue
		}
		elapsed := now.Sub(p.touchStart[a])
		if elapsed > time.Second && !p.feedback[a] {
			p.feedback[a] = true
			if err := p.setField(currentField[a], "CAL...", Blue); err != nil {
				return err
			}
		}
		if elapsed >= p.LongPress {
			if err := p.calibrate(ctx, a, now); err != nil {
				return err
			}
		}
	}
	if p.refresh.Due(now) {
		return p.Refresh()
	}
	return nil
}

func (p *Panel) calibrate(ctx context.Context, a rotator.Axis, now time.Time) error {
	p.touching[a] = false
	p.feedback[a] = false
	p.restore[a] = now.Add(500 * time.Millisecond)
	if err := p.Rotator.Calibrate(ctx, a, 0); err != nil {
		p.Logf("calibrating %s from panel: %v", a, err)
		p.status = ""
		p.statusHold = now.Add(2 * time.Second)
		return p.setField("tStatus", a.String()+" CAL ERR", Red)
	}
	p.Logf("%s calibrated to 0 from panel", a)
	if err := p.setField(currentField[a], degrees(0), Green); err != nil {
		return err
	}
	// Cleared so the status line comes back once the hold expires.
	p.status = ""
	p.statusHold = now.Add(2 * time.Second)
	return p.setField("tStatus", a.String()+" CAL OK", Green)
}

// Run drives the panel on conn until ctx is done or the port fails.
func (p *Panel) Run(ctx context.Context, conn io.ReadWriteCloser) error {
	p.Display = NewDisplay(conn)
	if err := p.Init(); err != nil {
		return err
	}
	events := make(chan Event)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		return ReadEvents(ctx, conn, events)
	})
	g.Go(func() error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				if err := p.HandleEvent(ctx, ev); err != nil {
					p.Logf("panel event %+v: %v", ev, err)
				}
			case <-ticker.C:
				if err := p.Tick(ctx); err != nil {
					return fmt.Errorf("updating panel: %w", err)
				}
			}
		}
	})
	return g.Wait()
}

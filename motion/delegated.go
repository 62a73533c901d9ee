package motion

import (
	"github.com/w1xm/eme_rotator/rotator"
	"github.com/w1xm/eme_rotator/stepperlink"
)

// Sender delivers commands to the secondary controller.
type Sender interface {
	Send(c stepperlink.Command) error
}

// DelegatedDriver drives a secondary controller that generates the step
// pulses itself. A command is only sent when it differs from the last one.
type DelegatedDriver struct {
	Link Sender

	last    stepperlink.Command
	known   bool
	jog     [2]rotator.Direction
	jogging bool
}

func NewDelegatedDriver(s Sender) *DelegatedDriver {
	return &DelegatedDriver{Link: s}
}

func (d *DelegatedDriver) send(c stepperlink.Command) error {
	if d.known && c == d.last {
		return nil
	}
	if err := d.Link.Send(c); err != nil {
		d.known = false
		return err
	}
	d.last, d.known = c, true
	return nil
}

// Drive sends the combined direction of both axes. The speed tier is fast
// when either axis is in the fast tier. Automatic commands are suppressed
// while jogging.
func (d *DelegatedDriver) Drive(p Plan) error {
	if d.jogging {
		return nil
	}
	c := stepperlink.Command{
		Az:    p[rotator.Azimuth].Direction,
		El:    p[rotator.Elevation].Direction,
		Speed: stepperlink.SpeedSlow,
	}
	if p[rotator.Azimuth].Tier == Fast || p[rotator.Elevation].Tier == Fast {
		c.Speed = stepperlink.SpeedFast
	}
	return d.send(c)
}

func (d *DelegatedDriver) Halt() error {
	d.jog = [2]rotator.Direction{}
	d.jogging = false
	return d.send(stepperlink.Stop)
}

// Jog keeps the axis moving at manual speed until it is jogged with Still.
func (d *DelegatedDriver) Jog(a rotator.Axis, dir rotator.Direction) error {
	d.jog[a] = dir
	if d.jog == [2]rotator.Direction{} {
		d.jogging = false
		return d.send(stepperlink.Stop)
	}
	d.jogging = true
	return d.send(stepperlink.Command{Az: d.jog[0], El: d.jog[1], Speed: stepperlink.SpeedManual})
}

// Forget makes the next command go out even if unchanged, after the
// secondary controller restarts.
func (d *DelegatedDriver) Forget() {
	d.known = false
}

// Zero drops motion of an axis in direction dir, after the secondary
// controller reported a limit and stopped that axis itself. The reduced
// command is sent at once so the link never repeats the vetoed direction.
func (d *DelegatedDriver) Zero(a rotator.Axis, dir rotator.Direction) error {
	c := d.last
	switch a {
	case rotator.Azimuth:
		if c.Az == dir {
			c.Az = rotator.Still
		}
	case rotator.Elevation:
		if c.El == dir {
			c.El = rotator.Still
		}
	}
	if d.jog[a] == dir {
		d.jog[a] = rotator.Still
		if d.jog == [2]rotator.Direction{} {
			d.jogging = false
		}
	}
	if c.Az == rotator.Still && c.El == rotator.Still {
		c = stepperlink.Stop
	}
	return d.send(c)
}

// Last returns the last command sent.
func (d *DelegatedDriver) Last() (stepperlink.Command, bool) {
	return d.last, d.known
}

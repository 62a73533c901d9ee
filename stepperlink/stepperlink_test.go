package stepperlink

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/eme_rotator/hal/sim"
	"github.com/w1xm/eme_rotator/rotator"
)

type NoopCloser struct {
	io.Reader
	write bytes.Buffer
}

func (nc *NoopCloser) Write(p []byte) (n int, err error) {
	return nc.write.Write(p)
}

func (nc *NoopCloser) Close() error {
	return nil
}

func TestParseEvent(t *testing.T) {
	for _, test := range []struct {
		input   string
		want    Event
		wantErr bool
	}{
		{"OK", Event{Kind: Ack}, false},
		{"READY\r", Event{Kind: Ready}, false},
		{"LIMIT:AZ:CW", Event{Kind: Limit, Axis: rotator.Azimuth, Direction: rotator.Positive}, false},
		{"LIMIT:AZ:CCW", Event{Kind: Limit, Axis: rotator.Azimuth, Direction: rotator.Negative}, false},
		{"LIMIT:EL:UP", Event{Kind: Limit, Axis: rotator.Elevation, Direction: rotator.Positive}, false},
		{"CLEAR:EL:DOWN", Event{Kind: Clear, Axis: rotator.Elevation, Direction: rotator.Negative}, false},
		{"LIMIT:EL:CW", Event{}, true},
		{"LIMIT:AZ", Event{}, true},
		{"HELLO", Event{}, true},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseEvent(test.input)
			if (err != nil) != test.wantErr {
				t.Fatalf("ParseEvent error = %v, wantErr %v", err, test.wantErr)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParseEvent: want(-)/got(+):\n%s", diff)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	for _, test := range []struct {
		cmd  Command
		want string
	}{
		{Stop, "M:0:0:0"},
		{Command{Az: rotator.Positive, El: rotator.Negative, Speed: SpeedFast}, "M:1:-1:1"},
		{Command{El: rotator.Positive, Speed: SpeedManual}, "M:0:1:2"},
	} {
		if got := test.cmd.String(); got != test.want {
			t.Errorf("String() = %q, want %q", got, test.want)
		}
	}
}

func TestRunAndPoll(t *testing.T) {
	conn := &NoopCloser{Reader: strings.NewReader("READY\nOK\n\nLIMIT:AZ:CW\nbogus\nCLEAR:EL:DOWN\n")}
	b := sim.New()
	l := New(conn)
	l.Logf = t.Logf
	l.Board = b
	l.StatusPin = 5
	if err := l.Setup(); err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != io.EOF {
		t.Errorf("Run = %v, want EOF", err)
	}

	t0 := time.Unix(100, 0)
	want := []Event{
		{Kind: Ready},
		{Kind: Ack},
		{Kind: Limit, Axis: rotator.Azimuth, Direction: rotator.Positive},
		{Kind: Clear, Axis: rotator.Elevation, Direction: rotator.Negative},
	}
	if diff := cmp.Diff(want, l.Poll(t0)); diff != "" {
		t.Errorf("Poll: want(-)/got(+):\n%s", diff)
	}
	if !l.Healthy() || !b.Level(5) {
		t.Errorf("link not healthy after receiving lines")
	}
	if got := l.Poll(t0.Add(time.Second)); len(got) != 0 {
		t.Errorf("second Poll returned %v", got)
	}
	if !l.Healthy() {
		t.Errorf("link unhealthy within timeout")
	}
	l.Poll(t0.Add(2500 * time.Millisecond))
	if l.Healthy() || b.Level(5) {
		t.Errorf("link still healthy after timeout")
	}
}

func TestHeartbeat(t *testing.T) {
	conn := &NoopCloser{Reader: strings.NewReader("OK\n")}
	l := New(conn)
	l.Logf = t.Logf
	l.Run(context.Background())

	if err := l.Send(Command{Az: rotator.Positive, Speed: SpeedFast}); err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(100, 0)
	for _, step := range []struct {
		at   time.Duration
		want string
	}{
		{0, "M:1:0:1\n"},
		{time.Second, "M:1:0:1\n"},
		{1500 * time.Millisecond, "M:1:0:1\nM:1:0:1\n"},
		{2 * time.Second, "M:1:0:1\nM:1:0:1\n"},
	} {
		l.Poll(t0.Add(step.at))
		if got := conn.write.String(); got != step.want {
			t.Errorf("at %v: wrote %q, want %q", step.at, got, step.want)
		}
	}
}

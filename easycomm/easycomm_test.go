package easycomm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/eme_rotator/calibration"
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

// fakeHandler records the actions a Parser takes.
type fakeHandler struct {
	pos     [2]float64
	targets map[rotator.Axis]float64
	tables  map[rotator.Axis]calibration.Table
	actions []string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		pos:     [2]float64{123.5, 10},
		targets: make(map[rotator.Axis]float64),
		tables:  make(map[rotator.Axis]calibration.Table),
	}
}

func (f *fakeHandler) Position() [2]float64 { return f.pos }

func (f *fakeHandler) SetTarget(a rotator.Axis, deg float64) {
	f.targets[a] = deg
	f.actions = append(f.actions, fmt.Sprintf("target %s %g", a, deg))
}

func (f *fakeHandler) ClearTarget(a rotator.Axis) {
	delete(f.targets, a)
	f.actions = append(f.actions, fmt.Sprintf("clear %s", a))
}

func (f *fakeHandler) Stop() error {
	f.actions = append(f.actions, "stop")
	return nil
}

func (f *fakeHandler) ResetCalibration() error {
	f.actions = append(f.actions, "reset")
	return nil
}

func (f *fakeHandler) Calibrate(a rotator.Axis, deg float64) error {
	f.actions = append(f.actions, fmt.Sprintf("calibrate %s %g", a, deg))
	return nil
}

func (f *fakeHandler) CalibrateTablePoint(a rotator.Axis, deg float64) error {
	f.actions = append(f.actions, fmt.Sprintf("point %s %g", a, deg))
	return nil
}

func (f *fakeHandler) ResetTable(a rotator.Axis) error {
	if _, ok := f.tables[a]; !ok {
		return calibration.ErrNoTable
	}
	f.actions = append(f.actions, fmt.Sprintf("reset table %s", a))
	return nil
}

func (f *fakeHandler) Table(a rotator.Axis) (calibration.Table, bool) {
	t, ok := f.tables[a]
	return t, ok
}

func (f *fakeHandler) Accumulator(a rotator.Axis) int64 { return 17 }

func newTestParser(h Handler) *Parser {
	p := NewParser(h)
	p.Logf = func(string, ...interface{}) {}
	return p
}

func TestExecute(t *testing.T) {
	for _, test := range []struct {
		input   string
		table   bool
		actions []string
	}{
		{"AZ180.5 EL45.0", false, []string{"target AZ 180.5", "target EL 45"}},
		{"az90", false, []string{"target AZ 90"}},
		{"EL12.3", false, []string{"target EL 12.3"}},
		{"AZ 270", false, []string{"target AZ 270"}},
		{"AZ EL", false, nil},
		{"AZ", false, nil},
		{"S", false, []string{"stop"}},
		{"SA SE", false, []string{"stop"}},
		{"stop", false, []string{"stop"}},
		{"S45", false, []string{"calibrate EL 45"}},
		{"S45.5", false, []string{"calibrate EL 45.5"}},
		{"Z0.0", false, []string{"calibrate AZ 0"}},
		{"Z123.5", false, []string{"calibrate AZ 123.5"}},
		{"Zfoo", false, nil},
		{"RESET", false, []string{"reset"}},
		{"reset_eeprom", false, []string{"reset"}},
		{"C90", true, []string{"point AZ 90"}},
		{"C90", false, nil},
		{"E30", true, []string{"point EL 30"}},
		{"EL30", true, []string{"target EL 30"}},
		{"CRESET", true, []string{"reset table AZ"}},
		{"ERESET", true, []string{"reset table EL"}},
		{"HELLO", false, nil},
		{"VE", false, nil},
	} {
		t.Run(test.input, func(t *testing.T) {
			h := newFakeHandler()
			if test.table {
				h.tables[rotator.Azimuth] = calibration.Linear(3, 10, 1, 0)
				h.tables[rotator.Elevation] = calibration.Linear(3, 10, 1, 0)
			}
			p := newTestParser(h)
			got := p.Execute(test.input + "\r")
			if want := "AZ123.5 EL10.0\r\n"; got != want {
				t.Errorf("reply = %q, want %q", got, want)
			}
			if diff := cmp.Diff(test.actions, h.actions); diff != "" {
				t.Errorf("actions: want(-)/got(+):\n%s", diff)
			}
		})
	}
}

func TestExecuteEmpty(t *testing.T) {
	h := newFakeHandler()
	p := newTestParser(h)
	for _, input := range []string{"", "\r", "  \r\n"} {
		if got := p.Execute(input); got != "" {
			t.Errorf("Execute(%q) = %q, want no reply", input, got)
		}
	}
	if len(h.actions) != 0 {
		t.Errorf("actions = %v, want none", h.actions)
	}
}

func TestMinMove(t *testing.T) {
	h := newFakeHandler()
	h.pos = [2]float64{359.95, 10}
	p := newTestParser(h)
	p.MinMove = 0.15

	p.Execute("AZ0.05 EL10.1")
	want := []string{"clear AZ", "clear EL"}
	if diff := cmp.Diff(want, h.actions); diff != "" {
		t.Errorf("actions: want(-)/got(+):\n%s", diff)
	}

	h.actions = nil
	p.Execute("AZ0.2 EL10.2")
	want = []string{"target AZ 0.2", "target EL 10.2"}
	if diff := cmp.Diff(want, h.actions); diff != "" {
		t.Errorf("actions: want(-)/got(+):\n%s", diff)
	}
}

func TestTableDump(t *testing.T) {
	h := newFakeHandler()
	h.tables[rotator.Azimuth] = calibration.Table{Step: 10, Values: []int32{-341, -56, 230}}
	p := newTestParser(h)
	got := p.Execute("CTABLE")
	want := "Az correction table (angle adc delta):\r\n" +
		"0 -341 +0\r\n" +
		"10 -56 +285\r\n" +
		"20 230 +286\r\n" +
		"Pos: 123.5 ADC: 17\r\n" +
		"AZ123.5 EL10.0\r\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dump: want(-)/got(+):\n%s", diff)
	}

	// No table: only the position.
	if got := p.Execute("ETABLE"); got != "AZ123.5 EL10.0\r\n" {
		t.Errorf("ETABLE without table = %q", got)
	}
}

func TestLineBuffer(t *testing.T) {
	var lb LineBuffer
	var got []string
	input := "AZ1\r\n\nEL2\r" + strings.Repeat("X", 100) + "\n"
	for i := 0; i < len(input); i++ {
		if line, ok := lb.Feed(input[i]); ok {
			got = append(got, line)
		}
	}
	want := []string{"AZ1", "EL2", strings.Repeat("X", MaxLine-1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines: want(-)/got(+):\n%s", diff)
	}
}

type parserExecutor struct {
	p *Parser
}

func (e parserExecutor) Execute(ctx context.Context, line string) (string, error) {
	return e.p.Execute(line), nil
}

func TestServeConn(t *testing.T) {
	h := newFakeHandler()
	conn := &NoopCloser{Reader: strings.NewReader("AZ10 EL20\r\n\r\nAZ\r")}
	err := ServeConn(context.Background(), conn, parserExecutor{newTestParser(h)})
	if err != io.EOF {
		t.Errorf("ServeConn = %v, want EOF", err)
	}
	want := "AZ123.5 EL10.0\r\nAZ123.5 EL10.0\r\n"
	if diff := cmp.Diff(want, conn.write.String()); diff != "" {
		t.Errorf("replies: want(-)/got(+):\n%s", diff)
	}
}

func TestServerSingleClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ln.Close()
	}()
	connected := make(chan bool, 4)
	s := &Server{
		Exec:      parserExecutor{newTestParser(newFakeHandler())},
		OnConnect: func(c bool) { connected <- c },
	}
	go s.Serve(ctx, ln)

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if !<-connected {
		t.Fatal("first client not reported connected")
	}

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, err := second.Read(make([]byte, 1)); err == nil {
		t.Errorf("second client read %d bytes, want connection closed", n)
	}

	if _, err := io.WriteString(first, "AZ\r"); err != nil {
		t.Fatal(err)
	}
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, len("AZ123.5 EL10.0\r\n"))
	if _, err := io.ReadFull(first, buf); err != nil {
		t.Fatal(err)
	}
	if got := string(buf); got != "AZ123.5 EL10.0\r\n" {
		t.Errorf("reply = %q", got)
	}
	first.Close()
	if <-connected {
		t.Error("disconnect reported as connect")
	}
}

// failingListener fails every Accept until closed.
type failingListener struct {
	mu      sync.Mutex
	accepts int
	closed  bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}
	l.accepts++
	return nil, syscall.EMFILE
}

func (l *failingListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{} }

func (l *failingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepts
}

func TestServeAcceptErrors(t *testing.T) {
	ln := &failingListener{}
	s := &Server{AcceptRetry: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, ln)
	}()
	time.Sleep(100 * time.Millisecond)
	if n := ln.count(); n < 1 || n > 10 {
		t.Errorf("Accept called %d times in 100ms with a 20ms retry", n)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve still running after cancel")
	}

	// A closed listener ends the loop even while ctx is live.
	ln = &failingListener{closed: true}
	done = make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(context.Background(), ln)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve still running on a closed listener")
	}
}

func TestClientParsing(t *testing.T) {
	for _, test := range []struct {
		input  string
		status rotator.Status
	}{
		{"AZ170.0 EL45.0\r\n", rotator.Status{AzPos: 170, ElPos: 45, ClientConnected: true}},
		{"AZ12.5", rotator.Status{AzPos: 12.5, ClientConnected: true}},
		{"EL-1.0", rotator.Status{ElPos: -1, ClientConnected: true}},
		{"GARBAGE AZ1", rotator.Status{AzPos: 1, ClientConnected: true}},
	} {
		t.Run(test.input, func(t *testing.T) {
			ctx := context.Background()
			conn := &NoopCloser{
				Reader: strings.NewReader(test.input),
			}
			var status rotator.Status
			c := &Client{
				conn: conn,
				statusCallback: func(s rotator.Status) {
					status = s
				},
			}
			if err := c.watch(ctx); err != io.EOF {
				t.Errorf("watch failed: got %v, want EOF", err)
			}
			if diff := cmp.Diff(test.status, status); diff != "" {
				t.Errorf("unexpected status: want(-)/got(+):\n%s", diff)
			}
		})
	}
}

func TestClientCommands(t *testing.T) {
	conn := &NoopCloser{Reader: strings.NewReader("")}
	c := &Client{conn: conn}
	c.SetAzimuthPosition(12.34)
	c.SetElevationPosition(5)
	c.Stop()
	if err := c.Calibrate(rotator.Azimuth, 0); err != nil {
		t.Fatal(err)
	}
	want := "AZ12.3\r\nEL5.0\r\nSA SE\r\nZ0.0\r\n"
	if diff := cmp.Diff(want, conn.write.String()); diff != "" {
		t.Errorf("commands: want(-)/got(+):\n%s", diff)
	}
}

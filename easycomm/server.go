package easycomm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
)

// MaxLine is the size of the receive buffer. Characters past MaxLine-1 in
// one line are dropped.
const MaxLine = 64

var ErrBusy = errors.New("another client is connected")

// Executor runs one command line and returns the reply.
type Executor interface {
	Execute(ctx context.Context, line string) (string, error)
}

// LineBuffer assembles CR or LF terminated lines one byte at a time.
type LineBuffer struct {
	buf []byte
}

// Feed adds c to the buffer and returns the completed line, if any. Empty
// lines are not reported.
func (l *LineBuffer) Feed(c byte) (string, bool) {
	if c == '\r' || c == '\n' {
		if len(l.buf) == 0 {
			return "", false
		}
		line := string(l.buf)
		l.buf = l.buf[:0]
		return line, true
	}
	if len(l.buf) < MaxLine-1 {
		l.buf = append(l.buf, c)
	}
	return "", false
}

func (l *LineBuffer) Reset() {
	l.buf = l.buf[:0]
}

// ServeConn executes commands read from conn until it is closed or exec
// fails.
func ServeConn(ctx context.Context, conn io.ReadWriter, exec Executor) error {
	r := bufio.NewReader(conn)
	var lb LineBuffer
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		line, ok := lb.Feed(c)
		if !ok {
			continue
		}
		reply, err := exec.Execute(ctx, line)
		if err != nil {
			return err
		}
		if reply == "" {
			continue
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
}

// Server accepts one Easycom client at a time over TCP.
type Server struct {
	Exec Executor
	// OnConnect is told when the client connects and disconnects.
	OnConnect func(connected bool)
	// AcceptRetry is the pause after a failed Accept. Defaults to 1s.
	AcceptRetry time.Duration

	mu   sync.Mutex
	busy bool
}

func (s *Server) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Server) notify(connected bool) {
	if s.OnConnect != nil {
		s.OnConnect(connected)
	}
}

// Listen starts accepting clients on addr until ctx is done.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing easycom socket")
		ln.Close()
	}()
	go s.Serve(ctx, ln)
	return nil
}

// Serve runs the accept loop on ln until ctx is done or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	retry := s.AcceptRetry
	if retry == 0 {
		retry = 1 * time.Second
	}
	for ctx.Err() == nil {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("failed to accept: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			continue
		}
		if err := s.claim(); err != nil {
			log.Printf("rejecting %v: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.release()
	defer conn.Close()
	log.Printf("accepted easycom client %v", conn.RemoteAddr())
	s.notify(true)
	defer s.notify(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if err := ServeConn(ctx, conn, s.Exec); err != nil && err != io.EOF && ctx.Err() == nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
	log.Printf("easycom client %v disconnected", conn.RemoteAddr())
}

// ServeSerial executes commands from a serial port, reopening it after
// errors, until ctx is done.
func ServeSerial(ctx context.Context, port string, baud int, exec Executor) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		conn, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
		if err != nil {
			log.Printf("opening %q: %v", port, err)
			continue
		}
		log.Printf("opened %q", port)
		g, gctx := errgroup.WithContext(ctx)
		done := make(chan struct{})
		g.Go(func() error {
			// Wait for context to be canceled or the reader to exit, then close the port.
			select {
			case <-gctx.Done():
			case <-done:
			}
			return conn.Close()
		})
		g.Go(func() error {
			defer close(done)
			return ServeConn(gctx, conn, exec)
		})
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			log.Printf("serving %q: %v", port, err)
		}
	}
}

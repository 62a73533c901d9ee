package easycomm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/w1xm/eme_rotator/rotator"
	"golang.org/x/sync/errgroup"
)

// Client talks to an Easycom rotator controller, such as rotatord, and
// polls its position.
type Client struct {
	PollInterval time.Duration

	statusCallback rotator.StatusCallback
	mu             sync.Mutex
	conn           io.ReadWriteCloser
	status         rotator.Status
}

var errNotConnected = errors.New("not connected")

// ConnectTCP keeps a connection to addr open until ctx is done, calling
// statusCallback whenever the reported position changes.
func ConnectTCP(ctx context.Context, addr string, statusCallback rotator.StatusCallback) (*Client, error) {
	c := &Client{
		PollInterval:   1 * time.Second,
		statusCallback: statusCallback,
	}
	go c.reconnectLoop(ctx, addr)
	return c, nil
}

func (c *Client) reconnectLoop(ctx context.Context, addr string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		dialer := &net.Dialer{
			Timeout: time.Second,
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.Printf("opening %q: %v", addr, err)
			continue
		}
		log.Printf("opened %q", addr)
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		if err := c.watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("watching %q: %v", addr, err)
		}
		c.mu.Lock()
		c.conn = nil
		c.status.ClientConnected = false
		c.mu.Unlock()
	}
}

func (c *Client) watch(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		scanner := bufio.NewScanner(conn)
		scanner.Split(bufio.ScanWords)
		for scanner.Scan() {
			input := scanner.Text()
			if err := c.parseInput(input); err != nil {
				log.Printf("parsing %q: %v", input, err)
				continue
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading port: %w", err)
		}
		return io.EOF
	})
	if c.PollInterval > 0 {
		g.Go(func() error {
			for {
				if err := c.send("AZ EL"); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.PollInterval):
				}
			}
		})
	}
	return g.Wait()
}

func parseFloat(dest *float64, input string) error {
	f, err := strconv.ParseFloat(input, 64)
	if err != nil {
		return err
	}
	*dest = f
	return nil
}

func (c *Client) parseInput(input string) error {
	if len(input) < 2 {
		return errors.New("truncated output")
	}
	c.mu.Lock()
	old := c.status
	defer func() {
		new := c.status
		c.mu.Unlock()
		if new != old {
			c.notifyStatus()
		}
	}()
	c.status.ClientConnected = true
	switch input[:2] {
	case "AZ": // AZxxx.x
		return parseFloat(&c.status.AzPos, input[2:])
	case "EL": // ELxxx.x
		return parseFloat(&c.status.ElPos, input[2:])
	}
	return errors.New("unknown rotator output")
}

func (c *Client) notifyStatus() {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if c.statusCallback != nil {
		c.statusCallback(status)
	}
}

// Status returns the last reported position.
func (c *Client) Status() rotator.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) send(cmd string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return err
	}
	return nil
}

func (c *Client) Stop() {
	c.send("SA SE")
}

func (c *Client) SetAzimuthPosition(angle float64) {
	c.send(fmt.Sprintf("AZ%03.1f", angle))
}

func (c *Client) SetElevationPosition(angle float64) {
	c.send(fmt.Sprintf("EL%03.1f", angle))
}

// Calibrate redefines the current position of an axis on the controller.
func (c *Client) Calibrate(a rotator.Axis, deg float64) error {
	if a == rotator.Azimuth {
		return c.send(fmt.Sprintf("Z%.1f", deg))
	}
	return c.send(fmt.Sprintf("S%.1f", deg))
}

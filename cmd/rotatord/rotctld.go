package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/eme_rotator/rotator"
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
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
				case <-time.After(1 * time.Second):
				}
				continue
			}
			go s.handleRotctld(ctx, conn)
		}
	}()
	return nil
}

// rotctld move directions.
const (
	moveUp    = 2
	moveDown  = 4
	moveLeft  = 8
	moveRight = 16
)

func (s *Server) handleRotctld(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Split(cmd, " ")
			cmd = parts[0][2:]
			if len(parts) > 1 {
				args = parts[1:]
			}
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			// Long command name without the extended response format.
			parts := strings.Fields(cmd[1:])
			if len(parts) == 0 {
				continue
			}
			cmd = parts[0]
			args = parts[1:]
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(strings.TrimLeft(cmd[1:], " "))
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		rprt := -1
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprintf(conn, `Model name: EME Rotator
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: 0.00
Max Azimuth: 360.00
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: N
Can Reset: N
Can Move: Y
Can get Info: Y
`, s.ElevationMin, s.ElevationMax)
			rprt = 0
		case "_", "get_info":
			fmt.Fprintf(conn, "EME Rotator\n")
			rprt = 0
		case "S", "stop":
			extended = true // always print RPRT
			if err := s.c.StopAll(ctx); err != nil {
				log.Printf("rotctld stop: %v", err)
				rprt = -5
				break
			}
			rprt = 0
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = -22
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				rprt = -22
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				rprt = -22
				break
			}
			if err := s.c.SetTarget(ctx, rotator.Azimuth, rotator.AddOffset(az, 0)); err != nil {
				rprt = -5
				break
			}
			if err := s.c.SetTarget(ctx, rotator.Elevation, el); err != nil {
				rprt = -5
				break
			}
			rprt = 0
		case "M", "move":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = -22
				break
			}
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				rprt = -22
				break
			}
			// Speed is accepted for compatibility; jogs run at the manual speed.
			if _, err := strconv.Atoi(args[1]); err != nil {
				rprt = -22
				break
			}
			var a rotator.Axis
			var d rotator.Direction
			switch dir {
			case moveUp:
				a, d = rotator.Elevation, rotator.Positive
			case moveDown:
				a, d = rotator.Elevation, rotator.Negative
			case moveLeft:
				a, d = rotator.Azimuth, rotator.Negative
			case moveRight:
				a, d = rotator.Azimuth, rotator.Positive
			default:
				rprt = -22
			}
			if d == rotator.Still {
				break
			}
			if err := s.c.Jog(ctx, a, d); err != nil {
				log.Printf("rotctld move: %v", err)
				rprt = -5
				break
			}
			rprt = 0
		case "p", "get_pos":
			s.statusMu.RLock()
			status := s.status
			s.statusMu.RUnlock()
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", status.AzPos, status.ElPos)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", status.AzPos, status.ElPos)
			}
			rprt = 0
		}
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}

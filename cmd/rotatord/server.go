package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/w1xm/eme_rotator/controller"
	"github.com/w1xm/eme_rotator/rotator"
)

type Server struct {
	c *controller.Controller
	// ElevationMin and ElevationMax are reported to rotctld clients.
	ElevationMin, ElevationMax float64

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     rotator.Status
	seq        uint64
}

func NewServer(c *controller.Controller) *Server {
	s := &Server{c: c, status: c.Status()}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	c.OnStatus(s.statusCallback)
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command  string  `json:"command"`
	Position float64 `json:"position"`
	// Axis is AZ or EL.
	Axis string `json:"axis"`
	// Direction is CW, CCW, UP or DOWN; empty releases a jog on Axis.
	Direction string `json:"direction"`
	Enabled   bool   `json:"enabled"`
	Line      string `json:"line"`
}

func parseAxis(name string) (rotator.Axis, error) {
	switch name {
	case "AZ":
		return rotator.Azimuth, nil
	case "EL":
		return rotator.Elevation, nil
	}
	return 0, fmt.Errorf("unknown axis %q", name)
}

func (s *Server) execute(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "set_azimuth_position":
		return s.c.SetTarget(ctx, rotator.Azimuth, msg.Position)
	case "set_elevation_position":
		return s.c.SetTarget(ctx, rotator.Elevation, msg.Position)
	case "stop":
		return s.c.StopAll(ctx)
	case "jog":
		if msg.Direction == "" {
			a, err := parseAxis(msg.Axis)
			if err != nil {
				return err
			}
			return s.c.Jog(ctx, a, rotator.Still)
		}
		a, d, ok := rotator.ParseDirection(msg.Direction)
		if !ok {
			return fmt.Errorf("unknown direction %q", msg.Direction)
		}
		return s.c.Jog(ctx, a, d)
	case "calibrate":
		a, err := parseAxis(msg.Axis)
		if err != nil {
			return err
		}
		return s.c.Calibrate(ctx, a, msg.Position)
	case "set_display_offset":
		return s.c.SetDisplayOffset(ctx, msg.Position, msg.Enabled)
	case "easycom":
		reply, err := s.c.Execute(ctx, msg.Line)
		if err != nil {
			return err
		}
		log.Printf("easycom %q: %q", msg.Line, reply)
		return nil
	}
	return fmt.Errorf("unknown command %q", msg.Command)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.execute(ctx, msg); err != nil {
				log.Printf("%v: %s: %v", r.RemoteAddr, msg.Command, err)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()

	send := func(status rotator.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	for {
		status, seq := s.status, s.seq
		s.statusMu.RUnlock()
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
		s.statusMu.RLock()
		for s.seq == seq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		if ctx.Err() != nil {
			s.statusMu.RUnlock()
			return
		}
	}
}

func (s *Server) statusCallback(status rotator.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.seq++
	s.statusCond.Broadcast()
}

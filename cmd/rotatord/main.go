// Command rotatord runs the az/el rotator controller: the control loop, the
// Easycom transport for the tracking software, the front panel, a rotctld
// bridge and a status HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/w1xm/eme_rotator/config"
	"github.com/w1xm/eme_rotator/easycomm"
	"github.com/w1xm/eme_rotator/nextion"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "JSON configuration file")
	simulate    = flag.Bool("sim", false, "run against a simulated mount")
	listen      = flag.String("listen", "", "Easycom TCP address, overrides the configuration")
	serialPort  = flag.String("serial", "", "Easycom serial port, overrides -listen and the configuration")
	httpAddr    = flag.String("http", "", "status HTTP address, overrides the configuration")
	rotctldAddr = flag.String("rotctld", "", "rotctld address, overrides the configuration")
	staticDir   = flag.String("static_dir", "", "directory containing static files")
)

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}
	if *simulate {
		cfg.Board.Type = config.BoardSim
		cfg.Motors.Mode = config.MotorDirect
	}
	if *listen != "" {
		cfg.Easycom.Listen = *listen
		cfg.Easycom.Serial = ""
	}
	if *serialPort != "" {
		cfg.Easycom.Serial = *serialPort
		cfg.Easycom.Listen = ""
	}
	if *httpAddr != "" {
		cfg.HTTPListen = *httpAddr
	}
	if *rotctldAddr != "" {
		cfg.RotctldListen = *rotctldAddr
	}
	return cfg, cfg.Validate()
}

// runPanel drives the Nextion display, reopening its port after errors.
func runPanel(ctx context.Context, r nextion.Rotator, port string, baud int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		conn, err := nextion.Open(port, baud)
		if err != nil {
			log.Printf("opening %q: %v", port, err)
			continue
		}
		log.Printf("opened display %q", port)
		if err := nextion.NewPanel(r).Run(ctx, conn); err != nil && ctx.Err() == nil {
			log.Printf("display %q: %v", port, err)
		}
	}
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mount, err := NewMount(ctx, &cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer mount.Close()
	c := mount.Controller

	metrics, err := NewMetrics(nil)
	if err != nil {
		log.Fatal(err)
	}
	metrics.Update(c.Status())
	c.OnStatus(metrics.Update)
	server := NewServer(c)
	server.ElevationMin, server.ElevationMax = cfg.Elevation.Min, cfg.Elevation.Max

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(ctx)
	})
	if mount.Link != nil {
		g.Go(func() error {
			if err := mount.Link.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("secondary controller link: %v", err)
			}
			return nil
		})
	}

	switch {
	case cfg.Easycom.Serial != "":
		go easycomm.ServeSerial(ctx, cfg.Easycom.Serial, cfg.Easycom.Baud, c)
	case cfg.Easycom.Listen != "":
		es := &easycomm.Server{Exec: c, OnConnect: c.SetClientConnected}
		if err := es.Listen(ctx, cfg.Easycom.Listen); err != nil {
			log.Fatal(err)
		}
		log.Printf("easycom listening on %v", cfg.Easycom.Listen)
	}

	if cfg.Nextion.Port != "" {
		go runPanel(ctx, c, cfg.Nextion.Port, cfg.Nextion.Baud)
	}

	if cfg.RotctldListen != "" {
		if err := server.ListenRotctld(ctx, cfg.RotctldListen); err != nil {
			log.Fatal(err)
		}
	}

	if cfg.HTTPListen != "" {
		r := mux.NewRouter()
		r.Handle("/api/status", http.HandlerFunc(server.StatusHandler))
		r.Handle("/api/ws", http.HandlerFunc(server.StatusSocketHandler))
		r.Handle("/metrics", metrics.Handler())
		if *staticDir != "" {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
		}
		srv := &http.Server{
			Handler:     r,
			Addr:        cfg.HTTPListen,
			ReadTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			// Wait for context to be canceled, then close server.
			<-ctx.Done()
			return srv.Close()
		})
		g.Go(func() error {
			log.Printf("Listening on %v", srv.Addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	log.Print("shutdown complete")
}

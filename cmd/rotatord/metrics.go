package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/w1xm/eme_rotator/rotator"
)

// Metrics exports controller status snapshots as Prometheus gauges.
type Metrics struct {
	gatherer prometheus.Gatherer

	Position        *prometheus.GaugeVec
	Target          *prometheus.GaugeVec
	Tracking        *prometheus.GaugeVec
	RawSample       *prometheus.GaugeVec
	Limit           *prometheus.GaugeVec
	LinkHealthy     prometheus.Gauge
	ClientConnected prometheus.Gauge
}

// NewMetrics registers the rotator metrics against reg, defaulting to the
// global registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{
		gatherer: gatherer,
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotator_position_degrees",
			Help: "Current antenna angle per axis.",
		}, []string{"axis"}),
		Target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotator_target_degrees",
			Help: "Commanded angle per axis, valid while tracking.",
		}, []string{"axis"}),
		Tracking: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotator_tracking",
			Help: "1 while the axis is moving toward a target.",
		}, []string{"axis"}),
		RawSample: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotator_raw_sample",
			Help: "Latest raw sensor reading per axis.",
		}, []string{"axis"}),
		Limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotator_limit_tripped",
			Help: "1 while travel in the direction is blocked by a limit.",
		}, []string{"axis", "direction"}),
		LinkHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotator_link_healthy",
			Help: "1 while the secondary stepper controller is responding.",
		}),
		ClientConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotator_client_connected",
			Help: "1 while an Easycom client is connected.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Position, m.Target, m.Tracking, m.RawSample, m.Limit, m.LinkHealthy, m.ClientConnected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Update records a status snapshot. It has the signature of a rotator.StatusCallback.
func (m *Metrics) Update(s rotator.Status) {
	m.Position.WithLabelValues("AZ").Set(s.AzPos)
	m.Position.WithLabelValues("EL").Set(s.ElPos)
	m.Target.WithLabelValues("AZ").Set(s.CommandAzPos)
	m.Target.WithLabelValues("EL").Set(s.CommandElPos)
	m.Tracking.WithLabelValues("AZ").Set(boolGauge(s.AzTracking))
	m.Tracking.WithLabelValues("EL").Set(boolGauge(s.ElTracking))
	m.RawSample.WithLabelValues("AZ").Set(float64(s.RawAz))
	m.RawSample.WithLabelValues("EL").Set(float64(s.RawEl))
	for _, a := range rotator.Axes {
		for _, d := range []rotator.Direction{rotator.Negative, rotator.Positive} {
			m.Limit.WithLabelValues(a.String(), d.Name(a)).Set(boolGauge(s.Limit(a, d)))
		}
	}
	m.LinkHealthy.Set(boolGauge(s.LinkHealthy))
	m.ClientConnected.Set(boolGauge(s.ClientConnected))
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

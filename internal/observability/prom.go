package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prom carries the engine's client-side metrics. Labels are the logical
// engine operation (issue.create, assignment.update, ...) rather than the
// raw URL so cardinality stays bounded.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         prometheus.Gauge

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "civicpulse",
				Name:      "engine_requests_total",
				Help:      "Remote calls issued by the engine, by operation and outcome.",
			},
			[]string{"op", "code"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "civicpulse",
				Name:      "engine_request_duration_seconds",
				Help:      "Remote call latency distributions.",
				// Sane initial defaults
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "civicpulse",
				Name:      "engine_in_flight_requests",
				Help:      "Current number of in-flight remote calls.",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "civicpulse",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Client cache hits by namespace prefix.",
			},
			[]string{"ns"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "civicpulse",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Client cache misses (including lazy expiries) by namespace prefix.",
			},
			[]string{"ns"},
		),
	}
	reg.MustRegister(p.RequestsTotal, p.RequestsDuration, p.InFlight, p.CacheHits, p.CacheMisses)

	return p
}

// Package metrics exposes prometheus collectors for the recording pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Live submission outcomes.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusSaturated = "saturated"
	StatusDiscarded = "discarded"
)

// Analysis kinds.
const (
	KindLive       = "live"
	KindFinal      = "final"
	KindTranscribe = "transcribe"
)

// Session outcomes.
const (
	OutcomeFinal    = "final"
	OutcomeFallback = "fallback"
)

type Metrics struct {
	registry *prometheus.Registry

	chunksCaptured   prometheus.Counter
	liveSubmissions  *prometheus.CounterVec
	sessions         *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	liveInFlight     prometheus.Gauge
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}

	m.chunksCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prosody_chunks_captured_total",
		Help: "Audio chunks captured across all sessions, header chunks included.",
	})
	m.liveSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosody_live_submissions_total",
			Help: "Live analysis submissions partitioned by outcome.",
		},
		[]string{"status"}, // ok, error, saturated, discarded
	)
	m.sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosody_sessions_total",
			Help: "Completed sessions partitioned by what was published last.",
		},
		[]string{"outcome"},
	)
	m.analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "prosody_analysis_duration_seconds",
			Help: "Round trip time of emotion classifier and transcription calls.",
			// 100ms .. ~51s; the classifier polls a batch job
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"kind"}, // live, final, transcribe
	)
	m.liveInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prosody_live_in_flight",
		Help: "Live analysis calls currently outstanding.",
	})

	for _, c := range []prometheus.Collector{
		m.chunksCaptured, m.liveSubmissions, m.sessions, m.analysisDuration, m.liveInFlight,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ChunkCaptured() {
	if m == nil {
		return
	}
	m.chunksCaptured.Inc()
}

func (m *Metrics) LiveSubmission(status string) {
	if m == nil {
		return
	}
	m.liveSubmissions.WithLabelValues(status).Inc()
}

func (m *Metrics) SessionDone(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAnalysis(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.liveInFlight.Add(delta)
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterHandlers mounts the metrics endpoint on mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle(metricsPath, m.Handler())
}

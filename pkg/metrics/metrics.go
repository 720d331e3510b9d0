package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recording actions.
const (
	ActionInserted = "inserted"
	ActionAppended = "appended"
	ActionSkipped  = "skipped"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	injections         *prometheus.CounterVec
	recordings         *prometheus.CounterVec
	pendingProxies     *prometheus.GaugeVec
	proxyDuration      *prometheus.HistogramVec
	requests           *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imposter_resolutions_total",
				Help: "Total number of response resolutions",
			},
			[]string{"type", "outcome"},
		),

		resolutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imposter_resolution_duration_seconds",
				Help:    "Time spent resolving a response",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		injections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imposter_injections_total",
				Help: "Total number of sandboxed evaluations",
			},
			[]string{"kind", "result"},
		),

		recordings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imposter_recordings_total",
				Help: "Total number of proxy recordings by mode and repository action",
			},
			[]string{"mode", "action"},
		),

		pendingProxies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "imposter_pending_proxy_resolutions",
				Help: "Number of delegated proxy exchanges awaiting completion",
			},
			[]string{"imposter"},
		),

		proxyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imposter_proxy_duration_seconds",
				Help:    "Round-trip time of proxied exchanges",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imposter_requests_total",
				Help: "Total number of requests served by imposters",
			},
			[]string{"imposter", "method", "status"},
		),
	}
}

// ObserveResolution records one resolve call.
func (m *Metrics) ObserveResolution(responseType string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(responseType, outcome(err)).Inc()
	m.resolutionDuration.WithLabelValues(responseType).Observe(d.Seconds())
}

// CountInjection records one sandboxed evaluation of the given kind
// (response, predicates or decorate).
func (m *Metrics) CountInjection(kind string, err error) {
	if m == nil {
		return
	}
	m.injections.WithLabelValues(kind, outcome(err)).Inc()
}

// CountRecording records what a proxy recording did to the repository.
func (m *Metrics) CountRecording(mode, action string) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(mode, action).Inc()
}

// SetPendingProxies sets the pending resolution count for an imposter.
func (m *Metrics) SetPendingProxies(imposter string, n int) {
	if m == nil {
		return
	}
	m.pendingProxies.WithLabelValues(imposter).Set(float64(n))
}

// ObserveProxy records one proxied round trip.
func (m *Metrics) ObserveProxy(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.proxyDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// CountRequest records one request served by an imposter listener.
func (m *Metrics) CountRequest(imposter, method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(imposter, method, strconv.Itoa(status)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cctp_transfer"

// Registry holds the service collectors on a private prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	pollAttempts     *prometheus.HistogramVec
	staleTransfers   prometheus.Gauge
	abandonedTotal   prometheus.Counter
	upstreamBreakers *prometheus.GaugeVec
}

// New creates a registry with Go and process collectors plus the transfer metrics
func New() *Registry {
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"route", "method"})

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfer_steps_total",
		Help:      "Transfer steps by step and outcome",
	}, []string{"step", "outcome"})

	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_step_duration_seconds",
		Help:      "Wall time of a transfer step including confirmation polling",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"step"})

	pollAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_attempts",
		Help:      "Attempts used by transaction and attestation polling",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 30, 60},
	}, []string{"kind", "outcome"})

	stale := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stale_transfers",
		Help:      "Unfinished transfers found by the last sweep",
	})

	abandoned := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_abandoned_total",
		Help:      "Transfers abandoned by the sweeper",
	})

	breakers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_breaker_open",
		Help:      "1 when the circuit breaker for an upstream API is open",
	}, []string{"upstream"})

	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpDuration, steps, stepDuration, pollAttempts,
		stale, abandoned, breakers,
	)

	return &Registry{
		registry:         r,
		httpRequests:     httpRequests,
		httpDuration:     httpDuration,
		stepsTotal:       steps,
		stepDuration:     stepDuration,
		pollAttempts:     pollAttempts,
		staleTransfers:   stale,
		abandonedTotal:   abandoned,
		upstreamBreakers: breakers,
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveStep implements the transfer service's step recorder
func (m *Registry) ObserveStep(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, outcome).Inc()
	if d > 0 {
		m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}

func (m *Registry) ObservePollAttempts(kind, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(kind, outcome).Observe(float64(attempts))
}

func (m *Registry) SetStaleTransfers(n int) {
	if m == nil {
		return
	}
	m.staleTransfers.Set(float64(n))
}

func (m *Registry) IncAbandoned() {
	if m == nil {
		return
	}
	m.abandonedTotal.Inc()
}

// SetBreakerOpen records whether an upstream's circuit breaker is open
func (m *Registry) SetBreakerOpen(upstream string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.upstreamBreakers.WithLabelValues(upstream).Set(v)
}

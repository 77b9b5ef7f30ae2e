package metrics

import (
	"net/http"
	"strconv"
	"time"

	"certledger/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the certificate lifecycle and its HTTP surface.
type Metrics struct {
	// Lifecycle outcomes by operation and error kind ("ok" on success)
	Outcomes *prometheus.CounterVec

	// Lifecycle latency by operation, ledger round trip included
	OperationLatency *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec

	RateLimited *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the metrics with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_lifecycle_outcomes_total",
			Help: "Certificate lifecycle outcomes by operation and error kind",
		}, []string{"op", "kind"}),

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_lifecycle_duration_seconds",
			Help:    "Duration of certificate lifecycle operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_rate_limited_total",
			Help: "Requests refused by the rate limiter by route",
		}, []string{"route"}),

		gatherer: reg,
	}
}

func (m *Metrics) ObserveOutcome(op string, kind domain.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	m.Outcomes.WithLabelValues(op, label).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) IncrementRateLimited(route string) {
	if m != nil {
		m.RateLimited.WithLabelValues(route).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Package metrics holds Prometheus collectors of the service
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gophauth"

// Issued token kinds
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindSystem  = "system"
)

type Metrics struct {
	registry *prometheus.Registry

	TokensIssued         *prometheus.CounterVec
	VerifyFailures       *prometheus.CounterVec
	RefreshReuseDetected prometheus.Counter
	ClientAuthFailures   prometheus.Counter
	RefreshSwept         prometheus.Counter
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New creates collectors on its own registry, so instances do not clash in tests
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by kind",
		}, []string{"kind"}),

		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verify_failures_total",
			Help:      "Rejected access tokens by reason",
		}, []string{"reason"}),

		RefreshReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Revoked refresh tokens presented again",
		}),

		ClientAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_auth_failures_total",
			Help:      "Failed client credentials authentications",
		}),

		RefreshSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_swept_total",
			Help:      "Expired refresh tokens deleted by retention",
		}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TokensIssued,
		m.VerifyFailures,
		m.RefreshReuseDetected,
		m.ClientAuthFailures,
		m.RefreshSwept,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler exposes registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

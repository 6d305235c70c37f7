package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login and authentication outcomes used as label values.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeThrottled = "throttled"
	OutcomeError     = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginsTotal          *prometheus.CounterVec
	AuthenticationsTotal *prometheus.CounterVec
	UsersCreatedTotal    prometheus.Counter
	SessionsRevokedTotal prometheus.Counter
	SessionsPrunedTotal  prometheus.Counter
}

// New builds a private registry so tests can create as many instances as
// they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progkeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "progkeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progkeeper_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progkeeper_authentications_total",
				Help: "Bearer token authentications by outcome",
			},
			[]string{"outcome"},
		),
		UsersCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progkeeper_users_created_total",
			Help: "Accounts registered",
		}),
		SessionsRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progkeeper_sessions_revoked_total",
			Help: "Sessions removed by logout or account deletion",
		}),
		SessionsPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progkeeper_sessions_pruned_total",
			Help: "Expired sessions removed by the prune job",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.AuthenticationsTotal,
		m.UsersCreatedTotal,
		m.SessionsRevokedTotal,
		m.SessionsPrunedTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

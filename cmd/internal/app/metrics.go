package app

import (
	"net/http"
	"strconv"
	"time"

	"duet/cmd/internal/analysis"
	"duet/cmd/internal/pairing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry and implements the coordinator
// and dispatcher observer hooks.
type Metrics struct {
	reg *prometheus.Registry

	sessionsCreated   prometheus.Counter
	sessionsPaid      prometheus.Counter
	partnerSubmits    *prometheus.CounterVec
	joinNotifications *prometheus.CounterVec
	analysisAttempts  *prometheus.CounterVec
	analysisDuration  *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

var (
	_ pairing.Observer  = (*Metrics)(nil)
	_ analysis.Observer = (*Metrics)(nil)
)

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duet", Name: "sessions_created_total",
			Help: "Sessions created by initiator submissions.",
		}),
		sessionsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duet", Name: "sessions_paid_total",
			Help: "Sessions unlocked by payment.",
		}),
		partnerSubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet", Name: "partner_submissions_total",
			Help: "Partner submissions by outcome.",
		}, []string{"outcome"}),
		joinNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet", Name: "join_notifications_total",
			Help: "Join notifications by result.",
		}, []string{"result"}),
		analysisAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet", Name: "analysis_attempts_total",
			Help: "Analyzer calls by result.",
		}, []string{"result"}),
		analysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duet", Name: "analysis_duration_seconds",
			Help:    "Time from trigger to stored result or give-up.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"ok"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet", Name: "http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duet", Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated, m.sessionsPaid, m.partnerSubmits, m.joinNotifications,
		m.analysisAttempts, m.analysisDuration, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SessionCreated() { m.sessionsCreated.Inc() }
func (m *Metrics) SessionPaid()    { m.sessionsPaid.Inc() }

func (m *Metrics) PartnerSubmission(outcome string) {
	m.partnerSubmits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JoinNotification(result string) {
	m.joinNotifications.WithLabelValues(result).Inc()
}

func (m *Metrics) AnalysisAttempt(result string) {
	m.analysisAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) AnalysisCompleted(ok bool, d time.Duration) {
	m.analysisDuration.WithLabelValues(strconv.FormatBool(ok)).Observe(d.Seconds())
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

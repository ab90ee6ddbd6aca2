package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	CheckIns         prometheus.Counter
	CheckOuts        prometheus.Counter
	CheckInConflicts prometheus.Counter
	VisitsUpdated    prometheus.Counter
	Exports          *prometheus.CounterVec
	OperatorsCreated prometheus.Counter
	LoginFailures    prometheus.Counter
	AuditDropped     prometheus.Counter
	AuditFailures    *prometheus.CounterVec
	PhotoBytes       prometheus.Histogram
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the metrics on a private registry so tests can build as many
// instances as they need.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CheckIns: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_checkins_total",
			Help: "Visits opened",
		}),
		CheckOuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_checkouts_total",
			Help: "Visits closed",
		}),
		CheckInConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_checkin_conflicts_total",
			Help: "Check-ins rejected because the person already had an open visit",
		}),
		VisitsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_visits_updated_total",
			Help: "Visit records corrected after the fact",
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_exports_total",
			Help: "Visit exports by format",
		}, []string{"format"}),
		OperatorsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_operators_created_total",
			Help: "Operator accounts created",
		}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_login_failures_total",
			Help: "Rejected login attempts",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full",
		}),
		AuditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_audit_failures_total",
			Help: "Audit entries that could not be written, by destination",
		}, []string{"destination"}),
		PhotoBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatehouse_photo_bytes",
			Help:    "Size of decoded check-in photos",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 8),
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatehouse_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementCheckIns() {
	if m != nil {
		m.CheckIns.Inc()
	}
}

func (m *Metrics) IncrementCheckOuts() {
	if m != nil {
		m.CheckOuts.Inc()
	}
}

func (m *Metrics) IncrementCheckInConflicts() {
	if m != nil {
		m.CheckInConflicts.Inc()
	}
}

func (m *Metrics) IncrementVisitsUpdated() {
	if m != nil {
		m.VisitsUpdated.Inc()
	}
}

func (m *Metrics) IncrementExports(format string) {
	if m != nil {
		m.Exports.WithLabelValues(format).Inc()
	}
}

func (m *Metrics) IncrementOperatorsCreated() {
	if m != nil {
		m.OperatorsCreated.Inc()
	}
}

func (m *Metrics) IncrementLoginFailures() {
	if m != nil {
		m.LoginFailures.Inc()
	}
}

func (m *Metrics) IncrementAuditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}

func (m *Metrics) IncrementAuditFailures(destination string) {
	if m != nil {
		m.AuditFailures.WithLabelValues(destination).Inc()
	}
}

func (m *Metrics) ObservePhotoBytes(n int) {
	if m != nil {
		m.PhotoBytes.Observe(float64(n))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LatencyMiddleware records request duration labelled by chi route pattern,
// which keeps ids out of label values.
func (m *Metrics) LatencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

// Package metrics exposes certreq activity as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/certreq/certificates"
)

const namespace = "certreq"

// Metrics holds the certreq collectors. It implements certificates.Recorder.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	catalogDropped     prometheus.Counter
	storeOpsTotal      *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	sessions           prometheus.Gauge
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec

	alerts *spikeDetector
}

var _ certificates.Recorder = (*Metrics)(nil)

// Option configures Metrics.
type Option func(*Metrics)

// WithAlertFunc enables spike detection on store failures and expired
// certificates, invoking fn when a threshold is crossed.
func WithAlertFunc(fn AlertFunc) Option {
	return func(m *Metrics) {
		m.alerts = newSpikeDetector(fn)
	}
}

// New creates the collectors and registers them on reg, or on the default
// registerer when reg is nil. Each registry can hold one Metrics.
func New(reg prometheus.Registerer, opts ...Option) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Certificate events emitted, by kind.",
		}, []string{"kind"}),
		catalogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_entries_dropped_total",
			Help:      "Catalog entries dropped as malformed.",
		}),
		storeOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "CSR store operations, by operation and result.",
		}, []string{"op", "result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_scan_duration_seconds",
			Help:      "Duration of catalog expiry scans.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Established sessions.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpRequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, c := range []prometheus.Collector{
		m.eventsTotal, m.catalogDropped, m.storeOpsTotal, m.scanDuration,
		m.sessions, m.httpRequestsTotal, m.httpRequestSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

// EventEmitted counts an emitted event.
func (m *Metrics) EventEmitted(kind certificates.EventKind) {
	m.eventsTotal.WithLabelValues(string(kind)).Inc()
	if kind == certificates.KindCertificateExpired {
		m.alerts.recordExpired()
	}
}

// CatalogEntriesDropped counts malformed catalog entries.
func (m *Metrics) CatalogEntriesDropped(n int) {
	if n > 0 {
		m.catalogDropped.Add(float64(n))
	}
}

// StoreOperation counts a CSR store operation.
func (m *Metrics) StoreOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if !errors.Is(err, certificates.ErrNoSession) && !errors.Is(err, certificates.ErrEmptyCSR) {
			m.alerts.recordStoreFailure()
		}
	}
	m.storeOpsTotal.WithLabelValues(op, result).Inc()
}

// ScanCompleted observes the duration of an expiry scan.
func (m *Metrics) ScanCompleted(d time.Duration) {
	m.scanDuration.Observe(d.Seconds())
}

// SetSessions sets the established sessions gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// Middleware records request counts and latency keyed by chi route pattern,
// so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the metrics gathered by g, or the default gatherer when g
// is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/logging"
)

// Manager defines the interface for metrics management
type Manager interface {
	// Store Metrics, reported by every JSON log file
	logging.Recorder
	UpdateActiveOutputs(count int)

	// HTTP Metrics
	RecordHTTPRequest(method, route, status string, duration time.Duration)

	// Background Metrics
	RecordBackgroundTask(taskType string, duration time.Duration, success bool)

	// Export and Health
	GetMetricsHandler() http.Handler
	IsHealthy() bool

	// HTTP Middleware
	Middleware() func(http.Handler) http.Handler

	// Lifecycle
	Start(ctx context.Context) error
	Stop() error
}

const namespace = "jsonlog"

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	registry *prometheus.Registry

	// Store Metrics
	storeOperationsTotal *prometheus.CounterVec
	storeDroppedTotal    prometheus.Counter
	storeSyncDuration    prometheus.Histogram
	activeOutputs        prometheus.Gauge

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Background Metrics
	backgroundTasksTotal   *prometheus.CounterVec
	backgroundTaskDuration *prometheus.HistogramVec

	started bool
	mu      sync.RWMutex
}

// NewManager creates a new metrics manager. A disabled configuration yields
// a manager that records nothing.
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	manager := &metricsManager{
		registry: prometheus.NewRegistry(),
	}

	manager.initializeMetrics()
	manager.registerMetrics()
	return manager
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics() {
	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of JSON log file operations",
		},
		[]string{"op", "result"},
	)

	m.storeDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "dropped_entries_total",
			Help:      "Total number of entries removed by truncation",
		},
	)

	m.storeSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sync_duration_seconds",
			Help:      "Time spent syncing JSON log files to stable storage",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	m.activeOutputs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "active_outputs",
			Help:      "Number of open JSON log files",
		},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.backgroundTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "tasks_total",
			Help:      "Total number of background tasks run",
		},
		[]string{"type", "result"},
	)

	m.backgroundTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "task_duration_seconds",
			Help:      "Background task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (m *metricsManager) registerMetrics() {
	metrics := []prometheus.Collector{
		// Store
		m.storeOperationsTotal,
		m.storeDroppedTotal,
		m.storeSyncDuration,
		m.activeOutputs,

		// HTTP
		m.httpRequestsTotal,
		m.httpRequestDuration,

		// Background
		m.backgroundTasksTotal,
		m.backgroundTaskDuration,

		// Runtime
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		m.registry.MustRegister(metric)
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Store Metrics Implementation

func (m *metricsManager) RecordOperation(op string, err error) {
	m.storeOperationsTotal.WithLabelValues(op, resultLabel(err == nil)).Inc()
}

func (m *metricsManager) RecordDropped(count int) {
	if count > 0 {
		m.storeDroppedTotal.Add(float64(count))
	}
}

func (m *metricsManager) ObserveSync(d time.Duration) {
	m.storeSyncDuration.Observe(d.Seconds())
}

func (m *metricsManager) UpdateActiveOutputs(count int) {
	m.activeOutputs.Set(float64(count))
}

// HTTP Metrics Implementation

func (m *metricsManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Background Metrics Implementation

func (m *metricsManager) RecordBackgroundTask(taskType string, duration time.Duration, success bool) {
	m.backgroundTasksTotal.WithLabelValues(taskType, resultLabel(success)).Inc()
	m.backgroundTaskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// Export and Health Implementation

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsManager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// HTTP Middleware Implementation

// Middleware records every request under its route template, so path
// parameters such as output names do not become label values.
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snoop := httpsnoop.CaptureMetrics(next, w, r)
			m.RecordHTTPRequest(r.Method, routeLabel(r), strconv.Itoa(snoop.Code), snoop.Duration)
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// Lifecycle Implementation

func (m *metricsManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("metrics manager already started")
	}

	m.started = true
	return nil
}

func (m *metricsManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return fmt.Errorf("metrics manager not started")
	}

	m.started = false
	return nil
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordOperation(op string, err error)                                      {}
func (n *noopManager) RecordDropped(count int)                                                   {}
func (n *noopManager) ObserveSync(d time.Duration)                                               {}
func (n *noopManager) UpdateActiveOutputs(count int)                                             {}
func (n *noopManager) RecordHTTPRequest(method, route, status string, duration time.Duration)    {}
func (n *noopManager) RecordBackgroundTask(taskType string, duration time.Duration, success bool) {}
func (n *noopManager) GetMetricsHandler() http.Handler { return http.NotFoundHandler() }
func (n *noopManager) IsHealthy() bool                 { return true }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
func (n *noopManager) Start(ctx context.Context) error { return nil }
func (n *noopManager) Stop() error                     { return nil }

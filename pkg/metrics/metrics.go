package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service metrics
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Remote RPC metrics
	RemoteCallsTotal   *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec
	RemoteRelogins     prometheus.Counter

	// Business metrics
	OrdersSynced        *prometheus.CounterVec
	PickingsSynced      prometheus.Counter
	QuantitiesPushed    *prometheus.CounterVec
	ShipmentsValidated  *prometheus.CounterVec
	BackordersProcessed *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "fulfillment",
	}
}

// New creates a new Metrics instance
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	m.RemoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "remote_calls_total",
			Help:      "Total number of remote RPC calls",
		},
		[]string{"service", "model", "method", "status"},
	)

	m.RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote RPC call duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "model", "method"},
	)

	m.RemoteRelogins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "remote_relogins_total",
			Help:        "Total number of automatic remote re-logins",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.OrdersSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "orders_synced_total",
			Help:      "Total number of sale orders synced from the remote system",
		},
		[]string{"service", "result"},
	)

	m.PickingsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "pickings_synced_total",
			Help:        "Total number of delivery documents mirrored locally",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.QuantitiesPushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "quantities_pushed_total",
			Help:      "Total number of prepared-quantity push operations",
		},
		[]string{"service", "result"},
	)

	m.ShipmentsValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "shipments_validated_total",
			Help:      "Total number of delivery validations by outcome",
		},
		[]string{"service", "outcome"},
	)

	m.BackordersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "backorders_processed_total",
			Help:      "Total number of backorder confirmations by policy",
		},
		[]string{"service", "policy"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RemoteCallsTotal,
		m.RemoteCallDuration,
		m.RemoteRelogins,
		m.OrdersSynced,
		m.PickingsSynced,
		m.QuantitiesPushed,
		m.ShipmentsValidated,
		m.BackordersProcessed,
	)

	return m
}

// ObserveHTTPRequest records one handled HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// ObserveRemoteCall records one remote RPC round trip.
func (m *Metrics) ObserveRemoteCall(model, method string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.RemoteCallsTotal.WithLabelValues(m.serviceName, model, method, status).Inc()
	m.RemoteCallDuration.WithLabelValues(m.serviceName, model, method).Observe(duration.Seconds())
}

// ServiceName returns the configured service name label.
func (m *Metrics) ServiceName() string {
	return m.serviceName
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

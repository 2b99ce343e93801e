package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the transport metrics
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Prometheus configuration
	MetricsPath string // HTTP path for metrics endpoint (default: /metrics)
	MetricsAddr string // Listen address for the metrics server (default: :9090)

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem (default: http_transport)
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// Registerer receives the collectors, prometheus.DefaultRegisterer when nil
	Registerer prometheus.Registerer
	// Gatherer serves the metrics endpoint, prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
}

// TransportMetrics records what transport handles do on the wire. A nil
// *TransportMetrics is valid and records nothing.
type TransportMetrics struct {
	config MetricsConfig
	server *http.Server

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	redirectTotal    prometheus.Counter
	authRetryTotal   *prometheus.CounterVec
	modeTotal        *prometheus.CounterVec
	reconnectTotal   prometheus.Counter
	messageTotal     *prometheus.CounterVec
	stateChangeTotal *prometheus.CounterVec
	activeHandles    prometheus.Gauge
}

// NewTransportMetrics creates and registers the transport collectors
func NewTransportMetrics(config MetricsConfig) (*TransportMetrics, error) {
	// Set defaults
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Subsystem == "" {
		config.Subsystem = "http_transport"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	config.ConstLabels = labels

	m := &TransportMetrics{config: config}
	m.initializeMetrics()

	if err := m.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *TransportMetrics) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}
}

// initializeMetrics creates all metric collectors
func (m *TransportMetrics) initializeMetrics() {
	m.requestTotal = prometheus.NewCounterVec(
		m.counterOpts("requests_total", "HTTP exchanges made by transport handles"),
		[]string{"method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "request_duration_milliseconds",
			Help:        "Time until response headers for transport HTTP exchanges in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"method"},
	)

	m.redirectTotal = prometheus.NewCounter(
		m.counterOpts("redirects_total", "Redirect hops followed"),
	)

	m.authRetryTotal = prometheus.NewCounterVec(
		m.counterOpts("auth_retries_total", "Requests retried after a 401 or 403"),
		[]string{"reason"},
	)

	m.modeTotal = prometheus.NewCounterVec(
		m.counterOpts("mode_transitions_total", "Handles that settled on a transport mode"),
		[]string{"mode"},
	)

	m.reconnectTotal = prometheus.NewCounter(
		m.counterOpts("backchannel_connects_total", "Backchannel connection attempts"),
	)

	m.messageTotal = prometheus.NewCounterVec(
		m.counterOpts("messages_received_total", "Inbound messages delivered to the owner"),
		[]string{"source"},
	)

	m.stateChangeTotal = prometheus.NewCounterVec(
		m.counterOpts("state_changes_total", "State notifications reported to the owner"),
		[]string{"state"},
	)

	m.activeHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "active_handles",
			Help:        "Transport handles that have not been disposed",
			ConstLabels: m.config.ConstLabels,
		},
	)
}

// registerMetrics registers all metrics with the configured registerer.
// Collectors that are already registered are reused.
func (m *TransportMetrics) registerMetrics() error {
	reg := m.config.Registerer
	var err error
	if m.requestTotal, err = register(reg, m.requestTotal); err != nil {
		return err
	}
	if m.requestDuration, err = register(reg, m.requestDuration); err != nil {
		return err
	}
	if m.redirectTotal, err = register(reg, m.redirectTotal); err != nil {
		return err
	}
	if m.authRetryTotal, err = register(reg, m.authRetryTotal); err != nil {
		return err
	}
	if m.modeTotal, err = register(reg, m.modeTotal); err != nil {
		return err
	}
	if m.reconnectTotal, err = register(reg, m.reconnectTotal); err != nil {
		return err
	}
	if m.messageTotal, err = register(reg, m.messageTotal); err != nil {
		return err
	}
	if m.stateChangeTotal, err = register(reg, m.stateChangeTotal); err != nil {
		return err
	}
	m.activeHandles, err = register(reg, m.activeHandles)
	return err
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRequest records one HTTP exchange. status is 0 when no response arrived.
func (m *TransportMetrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requestTotal.WithLabelValues(method, label).Inc()
	m.requestDuration.WithLabelValues(method).Observe(float64(duration.Milliseconds()))
}

// RecordRedirect records a followed redirect hop
func (m *TransportMetrics) RecordRedirect() {
	if m == nil {
		return
	}
	m.redirectTotal.Inc()
}

// RecordAuthRetry records a request retried with new credentials
func (m *TransportMetrics) RecordAuthRetry(reason string) {
	if m == nil {
		return
	}
	m.authRetryTotal.WithLabelValues(reason).Inc()
}

// RecordMode records a handle settling on a transport mode
func (m *TransportMetrics) RecordMode(mode string) {
	if m == nil {
		return
	}
	m.modeTotal.WithLabelValues(mode).Inc()
}

// RecordBackchannelConnect records a backchannel connection attempt
func (m *TransportMetrics) RecordBackchannelConnect() {
	if m == nil {
		return
	}
	m.reconnectTotal.Inc()
}

// RecordMessage records an inbound message handed to the owner
func (m *TransportMetrics) RecordMessage(source string) {
	if m == nil {
		return
	}
	m.messageTotal.WithLabelValues(source).Inc()
}

// RecordState records a state notification
func (m *TransportMetrics) RecordState(state string) {
	if m == nil {
		return
	}
	m.stateChangeTotal.WithLabelValues(state).Inc()
}

// RecordActiveHandles records the change in live handles
func (m *TransportMetrics) RecordActiveHandles(delta int) {
	if m == nil {
		return
	}
	m.activeHandles.Add(float64(delta))
}

// Handler serves the configured gatherer in the Prometheus text format
func (m *TransportMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.config.Gatherer, promhttp.HandlerOpts{})
}

// Start starts the metrics HTTP server
func (m *TransportMetrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())

	listener, err := net.Listen("tcp", m.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.MetricsAddr, err)
	}

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		_ = m.server.Serve(listener)
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (m *TransportMetrics) Shutdown(ctx context.Context) error {
	if m != nil && m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "garden"

// Metrics holds every Prometheus collector exported by the core.
//
// A nil *Metrics is valid: every recording method is a no-op on nil, so
// components can be built without instrumentation in tests.
type Metrics struct {
	// Telemetry
	DatagramsReceived     prometheus.Counter
	DatagramsUnattributed prometheus.Counter
	ReadingsForwarded     prometheus.Counter
	ReceiveErrors         prometheus.Counter
	PacketLogErrors       prometheus.Counter
	RegistrySize          prometheus.Gauge
	CommandsSent          *prometheus.CounterVec

	// Provisioning
	ProvisioningRuns     *prometheus.CounterVec
	ProvisioningActive   prometheus.Gauge
	ProvisioningDuration prometheus.Histogram

	// HTTP API
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of UDP datagrams received by the telemetry server",
		}),
		DatagramsUnattributed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_unattributed_total",
			Help:      "Datagrams that could not be attributed to any device",
		}),
		ReadingsForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_forwarded_total",
			Help:      "Moisture readings forwarded to consumers",
		}),
		ReceiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Socket errors that ended the receive loop",
		}),
		PacketLogErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_log_errors_total",
			Help:      "Failed appends to the diagnostic packet log",
		}),
		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_devices",
			Help:      "Number of devices in the registry",
		}),
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Outbound device commands by result",
		}, []string{"kind", "result"}),
		ProvisioningRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_runs_total",
			Help:      "Completed provisioning runs by result",
		}, []string{"result"}),
		ProvisioningActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisioning_runs_active",
			Help:      "Provisioning runs currently in progress",
		}),
		ProvisioningDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Wall-clock duration of provisioning runs",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// DatagramReceived counts one inbound datagram.
func (m *Metrics) DatagramReceived(attributed bool) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	if !attributed {
		m.DatagramsUnattributed.Inc()
	}
}

// ReadingForwarded counts one reading handed to consumers.
func (m *Metrics) ReadingForwarded() {
	if m == nil {
		return
	}
	m.ReadingsForwarded.Inc()
}

// ReceiveError counts a fatal receive error.
func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

// PacketLogError counts a failed packet log append.
func (m *Metrics) PacketLogError() {
	if m == nil {
		return
	}
	m.PacketLogErrors.Inc()
}

// SetRegistrySize records the current registry population.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(n))
}

// CommandSent counts an outbound command. kind is "output" or "text".
func (m *Metrics) CommandSent(kind string, err error) {
	if m == nil {
		return
	}
	m.CommandsSent.WithLabelValues(kind, result(err == nil)).Inc()
}

// ProvisioningStarted marks a run as in progress.
func (m *Metrics) ProvisioningStarted() {
	if m == nil {
		return
	}
	m.ProvisioningActive.Inc()
}

// ProvisioningFinished records a finished run.
func (m *Metrics) ProvisioningFinished(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProvisioningActive.Dec()
	m.ProvisioningRuns.WithLabelValues(result(success)).Inc()
	m.ProvisioningDuration.Observe(elapsed.Seconds())
}

// HTTPRequest records one served HTTP request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

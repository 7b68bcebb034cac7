package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signal directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics holds all Prometheus metrics for the call agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Event channel Metrics
	channelConnected  prometheus.Gauge
	channelReconnects prometheus.Counter
	signalsTotal      *prometheus.CounterVec
	emitFailuresTotal *prometheus.CounterVec
	discardedTotal    *prometheus.CounterVec

	// Call Metrics
	callOutcomesTotal  *prometheus.CounterVec
	callStatus         *prometheus.GaugeVec
	autoRejectsTotal   prometheus.Counter
	callDuration       *prometheus.HistogramVec
	bootstrapAttempts  prometheus.Counter
	bootstrapFailures  prometheus.Counter
	historyWriteErrors prometheus.Counter
}

// NewMetrics creates all metrics on a dedicated registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of control API requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Control API latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of control API requests currently being processed",
				ConstLabels: labels,
			},
		),

		channelConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "event_channel_connected",
				Help:        "1 while the signaling event channel is connected",
				ConstLabels: labels,
			},
		),
		channelReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "event_channel_reconnects_total",
				Help:        "Total number of event channel redials",
				ConstLabels: labels,
			},
		),
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_events_total",
				Help:        "Signaling events by name and direction",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		emitFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_emit_failures_total",
				Help:        "Outbound signaling events that could not be delivered",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		discardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_events_discarded_total",
				Help:        "Inbound events dropped without a state change",
				ConstLabels: labels,
			},
			[]string{"event", "reason"},
		),

		callOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_outcomes_total",
				Help:        "Calls finished, by direction and outcome",
				ConstLabels: labels,
			},
			[]string{"direction", "outcome"},
		),
		callStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "call_status",
				Help:        "1 for the current call status, 0 otherwise",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		autoRejectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_auto_rejects_total",
				Help:        "Incoming calls rejected by the ring timeout",
				ConstLabels: labels,
			},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of connected calls",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
		bootstrapAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_bootstrap_attempts_total",
				Help:        "Signaling subscription attempts",
				ConstLabels: labels,
			},
		),
		bootstrapFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_bootstrap_failures_total",
				Help:        "Bootstraps that exhausted their attempts",
				ConstLabels: labels,
			},
		),
		historyWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_history_write_errors_total",
				Help:        "Failed call history writes",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HTTP Metrics

func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// Event channel Metrics

func (m *Metrics) SetChannelConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.channelConnected.Set(1)
	} else {
		m.channelConnected.Set(0)
	}
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.channelReconnects.Inc()
}

func (m *Metrics) RecordSignal(event, direction string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(event, direction).Inc()
}

func (m *Metrics) RecordEmitFailure(event string) {
	if m == nil {
		return
	}
	m.emitFailuresTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDiscarded(event, reason string) {
	if m == nil {
		return
	}
	m.discardedTotal.WithLabelValues(event, reason).Inc()
}

// Call Metrics

func (m *Metrics) RecordCallOutcome(direction, outcome string) {
	if m == nil {
		return
	}
	m.callOutcomesTotal.WithLabelValues(direction, outcome).Inc()
}

// SetCallStatus marks status as current and clears the previous one
func (m *Metrics) SetCallStatus(previous, current string) {
	if m == nil {
		return
	}
	if previous != "" && previous != current {
		m.callStatus.WithLabelValues(previous).Set(0)
	}
	m.callStatus.WithLabelValues(current).Set(1)
}

func (m *Metrics) RecordAutoReject() {
	if m == nil {
		return
	}
	m.autoRejectsTotal.Inc()
}

func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

func (m *Metrics) RecordBootstrapAttempt() {
	if m == nil {
		return
	}
	m.bootstrapAttempts.Inc()
}

func (m *Metrics) RecordBootstrapFailure() {
	if m == nil {
		return
	}
	m.bootstrapFailures.Inc()
}

func (m *Metrics) RecordHistoryWriteError() {
	if m == nil {
		return
	}
	m.historyWriteErrors.Inc()
}

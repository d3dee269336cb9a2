package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an optional interface for collecting server metrics.
// It is not part of the session state machine — the Server calls out to
// it at connection and transfer boundaries only, matching the "external
// collaborators... interact with the core only through the interfaces in
// §6" scoping in spec.md §1. All methods must be non-blocking.
type MetricsCollector interface {
	// RecordCommand records one FTP command dispatch.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records a completed data transfer.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records a connection accept/reject decision.
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records a USER/PASS attempt's outcome.
	RecordAuthentication(success bool, user string)
}

// noopMetrics discards everything; the Server's default when no
// collector is configured.
type noopMetrics struct{}

func (noopMetrics) RecordCommand(string, bool, time.Duration)   {}
func (noopMetrics) RecordTransfer(string, int64, time.Duration) {}
func (noopMetrics) RecordConnection(bool, string)               {}
func (noopMetrics) RecordAuthentication(bool, string)           {}

// PrometheusMetrics implements MetricsCollector on top of
// prometheus/client_golang, grounded in the pack's own use of that
// library for socket/transfer observability (runZeroInc-sockstats) and
// in nabbar-golib, which wires the same client into its services.
type PrometheusMetrics struct {
	commands     *prometheus.CounterVec
	connections  *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewPrometheusMetrics registers its collectors with reg. Pass
// prometheus.DefaultRegisterer to publish on the default /metrics path.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd", Name: "commands_total", Help: "Commands dispatched by name and outcome.",
		}, []string{"cmd", "success"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd", Name: "connections_total", Help: "Control connections by outcome.",
		}, []string{"accepted", "reason"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd", Name: "auth_attempts_total", Help: "USER/PASS attempts by outcome.",
		}, []string{"success"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd", Name: "transfers_total", Help: "Completed data transfers by operation.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd", Name: "transfer_bytes_total", Help: "Bytes moved by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ftpd", Name: "transfer_duration_seconds", Help: "Transfer duration by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.commands, m.connections, m.authAttempts, m.transfers, m.bytes, m.duration)
	return m
}

func (m *PrometheusMetrics) RecordCommand(cmd string, success bool, d time.Duration) {
	m.commands.WithLabelValues(cmd, boolLabel(success)).Inc()
}

func (m *PrometheusMetrics) RecordConnection(accepted bool, reason string) {
	m.connections.WithLabelValues(boolLabel(accepted), reason).Inc()
}

func (m *PrometheusMetrics) RecordAuthentication(success bool, user string) {
	m.authAttempts.WithLabelValues(boolLabel(success)).Inc()
}

func (m *PrometheusMetrics) RecordTransfer(op string, n int64, d time.Duration) {
	m.transfers.WithLabelValues(op).Inc()
	m.bytes.WithLabelValues(op).Add(float64(n))
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

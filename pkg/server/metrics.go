package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server carries its
// own registry so tests can run multiple servers in one process without
// duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	commandsTotal     *prometheus.CounterVec
	commandFailures   *prometheus.CounterVec
	messagesDelivered prometheus.Counter
}

// NewMetrics creates and registers all server collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "postbox_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_commands_total",
			Help: "Commands processed, by command name",
		}, []string{"command"}),
		commandFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_command_failures_total",
			Help: "Commands that returned a failure response, by reason",
		}, []string{"reason"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "postbox_messages_delivered_total",
			Help: "Messages accepted into a recipient inbox",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveSessions sets the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordCommand counts one processed command.
func (m *Metrics) RecordCommand(command string) {
	m.commandsTotal.WithLabelValues(command).Inc()
}

// RecordFailure counts one failed command by failure reason.
func (m *Metrics) RecordFailure(reason string) {
	m.commandFailures.WithLabelValues(reason).Inc()
}

// RecordMessageDelivered counts one accepted message.
func (m *Metrics) RecordMessageDelivered() {
	m.messagesDelivered.Inc()
}

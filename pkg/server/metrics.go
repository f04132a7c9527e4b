package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the hub. A nil *Metrics is valid
// and records nothing, which keeps tests free of global registry collisions.
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsAdmitted     prometheus.Counter
	sessionsDisconnected prometheus.Counter
	sessionsRejected     prometheus.Counter
	sessionsReaped       prometheus.Counter

	// Subscription metrics
	channelSubscribers *prometheus.GaugeVec

	// Broadcast metrics
	broadcastFanout   *prometheus.HistogramVec
	broadcastDuration *prometheus.HistogramVec
	broadcastsDropped prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance registered on the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsehub_active_sessions",
				Help: "Current number of connected sessions",
			},
		),
		sessionsAdmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsehub_sessions_admitted_total",
				Help: "Total number of sessions admitted",
			},
		),
		sessionsDisconnected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsehub_sessions_disconnected_total",
				Help: "Total number of sessions removed for any reason",
			},
		),
		sessionsRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsehub_sessions_rejected_total",
				Help: "Total number of connections refused at capacity",
			},
		),
		sessionsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsehub_sessions_reaped_total",
				Help: "Total number of sessions reaped by the heartbeat monitor",
			},
		),
		channelSubscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsehub_channel_subscribers",
				Help: "Number of sessions subscribed per channel",
			},
			[]string{"channel"},
		),
		broadcastFanout: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsehub_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"channel"},
		),
		broadcastDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsehub_broadcast_duration_seconds",
				Help:    "Time taken to fan a broadcast out to all subscribers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		broadcastsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsehub_broadcasts_dropped_total",
				Help: "Broadcasts dropped because the fan-out queue was full",
			},
		),
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsehub_messages_received_total",
				Help: "Total messages received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsehub_messages_sent_total",
				Help: "Total messages sent to clients by type",
			},
			[]string{"type"},
		),
	}
}

// RecordActiveSessions updates the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionAdmitted increments the admission counter.
func (m *Metrics) RecordSessionAdmitted() {
	if m == nil {
		return
	}
	m.sessionsAdmitted.Inc()
}

// RecordSessionDisconnected increments the disconnection counter.
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordSessionRejected increments the capacity rejection counter.
func (m *Metrics) RecordSessionRejected() {
	if m == nil {
		return
	}
	m.sessionsRejected.Inc()
}

// RecordSessionReaped increments the heartbeat reap counter.
func (m *Metrics) RecordSessionReaped() {
	if m == nil {
		return
	}
	m.sessionsReaped.Inc()
}

// RecordChannelSubscribers updates the subscriber count for a channel.
func (m *Metrics) RecordChannelSubscribers(channel string, count int) {
	if m == nil {
		return
	}
	m.channelSubscribers.WithLabelValues(channel).Set(float64(count))
}

// RecordBroadcastFanout records how many sessions received a broadcast.
func (m *Metrics) RecordBroadcastFanout(channel string, recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.WithLabelValues(channel).Observe(float64(recipients))
}

// RecordBroadcastDuration records how long a fan-out pass took.
func (m *Metrics) RecordBroadcastDuration(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.broadcastDuration.WithLabelValues(channel).Observe(seconds)
}

// RecordBroadcastDropped increments the dropped broadcast counter.
func (m *Metrics) RecordBroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastsDropped.Inc()
}

// RecordMessageReceived increments the received counter for a message type.
func (m *Metrics) RecordMessageReceived(messageType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the sent counter for a message type.
func (m *Metrics) RecordMessageSent(messageType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(messageType).Inc()
}

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "relay"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Active WebSocket connections (gauge)
	ActiveConnections prometheus.Gauge

	// Total messages forwarded to recipients (counter)
	MessagesRouted prometheus.Counter

	// Total messages dropped (counter) - slow client, closed connection
	MessagesDropped prometheus.Counter

	// Connection events (counter with labels)
	ConnectionsTotal *prometheus.CounterVec

	// Reconnections counter - an already-online user announced again
	Reconnections prometheus.Counter

	// Presence broadcasts (counter)
	PresenceBroadcasts prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently active WebSocket connections",
		}),

		MessagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of messages forwarded to online recipients",
		}),

		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped (slow client, closed connection)",
		}),

		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of WebSocket connection events",
		}, []string{"event"}), // event: "opened", "closed"

		Reconnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnections_total",
			Help:      "Total number of announcements by already-online users",
		}),

		PresenceBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_total",
			Help:      "Total number of online-set broadcasts",
		}),
	}

	return m
}

// IncMessagesRouted increments the messages routed counter.
func (m *Metrics) IncMessagesRouted() {
	m.MessagesRouted.Inc()
}

// IncMessagesDropped increments the messages dropped counter.
func (m *Metrics) IncMessagesDropped() {
	m.MessagesDropped.Inc()
}

// IncPresenceBroadcasts increments the presence broadcast counter.
func (m *Metrics) IncPresenceBroadcasts() {
	m.PresenceBroadcasts.Inc()
}

// ConnectionOpened increments active connections and connection opened counter.
func (m *Metrics) ConnectionOpened() {
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.WithLabelValues("opened").Inc()
}

// ConnectionClosed decrements active connections and increments connection closed counter.
func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
	m.ConnectionsTotal.WithLabelValues("closed").Inc()
}

// IncReconnections increments the reconnections counter.
func (m *Metrics) IncReconnections() {
	m.Reconnections.Inc()
}

// DefaultMetrics creates metrics with the default Prometheus registry.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

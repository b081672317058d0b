package relay

import (
	"go.uber.org/zap"
)

// BroadcasterMetrics tracks presence broadcast statistics.
type BroadcasterMetrics interface {
	IncPresenceBroadcasts()
	IncMessagesDropped()
}

// Broadcaster republishes the online snapshot to every live connection
// after a presence change. No filtering happens here: every connection,
// announced or not, receives the full online set. Scoping the list to a
// follow graph is the client adapter's job.
type Broadcaster struct {
	registry *Registry
	sessions *SessionSet
	logger   *zap.Logger
	metrics  BroadcasterMetrics
}

// NewBroadcaster creates a presence broadcaster.
func NewBroadcaster(registry *Registry, sessions *SessionSet, logger *zap.Logger, metrics BroadcasterMetrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
	}
}

// Broadcast sends the current getUsers snapshot to all live connections.
// Delivery is best-effort: a closed or saturated client just misses this
// snapshot and will catch up on the next presence change.
func (b *Broadcaster) Broadcast() {
	entries := b.registry.Entries()
	frame, err := NewPresenceEvent(entries)
	if err != nil {
		b.logger.Error("Failed to encode presence snapshot", zap.Error(err))
		return
	}

	for _, client := range b.sessions.All() {
		if !client.TrySend(frame) {
			b.logger.Debug("Presence frame not queued",
				zap.String("conn_id", client.ID),
			)
			if b.metrics != nil {
				b.metrics.IncMessagesDropped()
			}
		}
	}

	if b.metrics != nil {
		b.metrics.IncPresenceBroadcasts()
	}
	b.logger.Debug("Presence broadcast",
		zap.Int("online_users", len(entries)),
		zap.Int("connections", b.sessions.Count()),
	)
}

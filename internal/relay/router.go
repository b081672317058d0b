package relay

import (
	"go.uber.org/zap"
)

// RouterMetrics tracks routing statistics.
type RouterMetrics interface {
	IncMessagesRouted()
	IncMessagesDropped() // Real errors: channel full, client closed
	// Note: "recipient offline" is NOT counted - durability is the
	// external store's job, the relay path is best-effort by design.
}

// Router forwards sendMessage requests to the recipient's live
// connection(s). It never queues, retries, or persists: a message to an
// offline user is dropped from the relay path and is recovered by the
// client from the external message store on next history fetch.
type Router struct {
	registry *Registry
	sessions *SessionSet
	logger   *zap.Logger
	metrics  RouterMetrics
}

// NewRouter creates a message router.
func NewRouter(registry *Registry, sessions *SessionSet, logger *zap.Logger, metrics RouterMetrics) *Router {
	return &Router{
		registry: registry,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
	}
}

// Route forwards {senderID, text} as a getMessage event to receiverID's
// registered connection(s) only. Point-to-point, never broadcast. An
// unknown recipient is a silent no-op.
func (r *Router) Route(senderID, receiverID, text string) {
	connIDs, ok := r.registry.Lookup(receiverID)
	if !ok {
		// Recipient offline - expected, not an error. The sender's REST
		// persistence call is the durable path.
		r.logger.Debug("Recipient not online, dropping from relay path",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
		)
		return
	}

	frame, err := NewMessageEvent(senderID, text)
	if err != nil {
		r.logger.Error("Failed to encode message event",
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return
	}

	for _, connID := range connIDs {
		r.dispatch(connID, receiverID, frame)
	}
}

// dispatch queues the frame on one connection's send channel. A full
// channel means a slow client (network lag, or the app died with the
// socket half-open); the connection is forcefully closed so the read
// pump runs its cleanup and the registry entry goes away.
func (r *Router) dispatch(connID, receiverID string, frame []byte) {
	client, ok := r.sessions.Get(connID)
	if !ok || client.IsClosed() {
		r.logger.Debug("Registered connection no longer live, skipping",
			zap.String("conn_id", connID),
			zap.String("receiver_id", receiverID),
		)
		if r.metrics != nil {
			r.metrics.IncMessagesDropped()
		}
		return
	}

	if client.TrySend(frame) {
		r.logger.Debug("Message dispatched",
			zap.String("conn_id", connID),
			zap.String("receiver_id", receiverID),
		)
		if r.metrics != nil {
			r.metrics.IncMessagesRouted()
		}
		return
	}

	r.logger.Warn("Slow client detected, closing connection",
		zap.String("conn_id", connID),
		zap.String("receiver_id", receiverID),
	)
	if r.metrics != nil {
		r.metrics.IncMessagesDropped()
	}
	r.sessions.Remove(connID)
}

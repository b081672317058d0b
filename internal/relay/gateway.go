package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 30 * time.Second

	// Maximum inbound frame size. Relay frames are tiny.
	maxMessageSize = 4096

	// DefaultSendBuffer is the per-connection outbound queue depth.
	DefaultSendBuffer = 256
)

// GatewayMetrics tracks connection lifecycle statistics.
type GatewayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	IncReconnections()
}

// PresenceNotifier receives presence transitions for fan-out beyond this
// process (e.g. a Redis feed). Calls are best-effort; a nil notifier
// disables fan-out.
type PresenceNotifier interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Gateway owns the connection lifecycle: transport accept, the addUser
// announce that moves a connection from Connecting to Open, registry
// cleanup on disconnect, and reconnection idempotence. Transport-level
// reconnection is the client's responsibility; a reconnect is
// indistinguishable from a fresh connection here.
type Gateway struct {
	registry    *Registry
	sessions    *SessionSet
	broadcaster *Broadcaster
	router      *Router
	notifier    PresenceNotifier
	logger      *zap.Logger
	metrics     GatewayMetrics
	upgrader    websocket.Upgrader
	sendBuffer  int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithPresenceNotifier wires a cross-process presence feed.
func WithPresenceNotifier(n PresenceNotifier) GatewayOption {
	return func(g *Gateway) { g.notifier = n }
}

// WithGatewayMetrics wires lifecycle metrics.
func WithGatewayMetrics(m GatewayMetrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithSendBuffer overrides the per-connection outbound queue depth.
func WithSendBuffer(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.sendBuffer = n
		}
	}
}

// NewGateway creates a Gateway around a registry, session set, broadcaster
// and router.
func NewGateway(registry *Registry, sessions *SessionSet, broadcaster *Broadcaster, router *Router, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:    registry,
		sessions:    sessions,
		broadcaster: broadcaster,
		router:      router,
		logger:      logger,
		sendBuffer:  DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Tighten this in production
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sessions exposes the session set for shutdown handling.
func (g *Gateway) Sessions() *SessionSet {
	return g.sessions
}

// ServeWS upgrades an HTTP request and runs the connection until it
// closes. The connection stays in the Connecting state (no registry
// entry, no presence impact) until it announces itself via addUser.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, g.sendBuffer)
	g.sessions.Add(client)
	if g.metrics != nil {
		g.metrics.ConnectionOpened()
	}
	g.logger.Info("Connection accepted",
		zap.String("conn_id", client.ID),
		zap.Int("active", g.sessions.Count()),
	)

	client.AddGoroutine() // writePump
	client.AddGoroutine() // readPump

	go g.writePump(client)
	g.readPump(client)
}

// readPump consumes inbound frames until the transport closes, then runs
// the disconnect cleanup exactly once.
func (g *Gateway) readPump(client *Client) {
	defer func() {
		client.DoneGoroutine()
		g.disconnect(client)
	}()

	conn := client.Conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := client.Context()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Debug("Read error",
					zap.String("conn_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}

		g.handleFrame(client, raw)
	}
}

// handleFrame dispatches one inbound envelope. A malformed frame is
// dropped; no error from this path is fatal to the connection.
func (g *Gateway) handleFrame(client *Client, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		g.logger.Warn("Dropping malformed frame",
			zap.String("conn_id", client.ID),
			zap.Error(err),
		)
		return
	}

	switch env.Event {
	case EventAddUser:
		var userID string
		if err := json.Unmarshal(env.Data, &userID); err != nil || userID == "" {
			g.logger.Warn("Dropping addUser with bad payload",
				zap.String("conn_id", client.ID),
				zap.Error(err),
			)
			return
		}
		g.handleAddUser(client, userID)

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			g.logger.Warn("Dropping sendMessage with bad payload",
				zap.String("conn_id", client.ID),
				zap.Error(err),
			)
			return
		}
		g.router.Route(payload.SenderID, payload.ReceiverID, payload.Text)

	default:
		g.logger.Debug("Ignoring unknown event",
			zap.String("conn_id", client.ID),
			zap.String("event", env.Event),
		)
	}
}

// handleAddUser moves the connection from Connecting to Open. Duplicate
// announcements and policy-driven replacement are the registry's call;
// the gateway only closes whatever transports got evicted and broadcasts
// when the presence set actually changed.
func (g *Gateway) handleAddUser(client *Client, userID string) {
	res := g.registry.Register(userID, client.ID)
	if !res.Changed {
		g.logger.Debug("Registration ignored by policy",
			zap.String("conn_id", client.ID),
			zap.String("user_id", userID),
			zap.String("policy", g.registry.Policy().String()),
		)
		return
	}

	if res.PrevUser != "" {
		g.logger.Info("Connection switched identity",
			zap.String("conn_id", client.ID),
			zap.String("old_user_id", res.PrevUser),
			zap.String("user_id", userID),
		)
	}

	if res.Registered {
		client.SetUserID(userID)

		for _, staleID := range res.Evicted {
			g.logger.Info("Replacing connection for user",
				zap.String("user_id", userID),
				zap.String("old_conn_id", staleID),
				zap.String("new_conn_id", client.ID),
			)
			g.sessions.Remove(staleID)
		}

		if res.WasOnline && g.metrics != nil {
			g.metrics.IncReconnections()
		}

		g.logger.Info("User announced",
			zap.String("conn_id", client.ID),
			zap.String("user_id", userID),
		)
	} else {
		// The policy refused the new identity but the shed previous entry
		// already changed the presence set.
		client.SetUserID("")
		g.logger.Debug("Registration ignored by policy",
			zap.String("conn_id", client.ID),
			zap.String("user_id", userID),
			zap.String("policy", g.registry.Policy().String()),
		)
	}

	g.broadcaster.Broadcast()
	if g.notifier != nil {
		if res.PrevUser != "" && res.PrevUserOffline {
			g.notifier.UserOffline(res.PrevUser)
		}
		if res.Registered && !res.WasOnline {
			g.notifier.UserOnline(userID)
		}
	}
}

// disconnect runs the Open -> Closed transition: drop the session, clear
// any registry entry for this connection id, and rebroadcast presence iff
// the online set changed. A connection that never announced produces no
// presence change; removal from the registry is simply a no-op.
func (g *Gateway) disconnect(client *Client) {
	g.sessions.Remove(client.ID)

	userID, changed := g.registry.Remove(client.ID)
	if changed {
		g.broadcaster.Broadcast()
		if g.notifier != nil && !g.registry.Online(userID) {
			g.notifier.UserOffline(userID)
		}
	}

	if g.metrics != nil {
		g.metrics.ConnectionClosed()
	}
	g.logger.Info("Connection closed",
		zap.String("conn_id", client.ID),
		zap.String("user_id", client.UserID()),
		zap.Int("active", g.sessions.Count()),
	)
}

// writePump drains the client's send channel to the transport and keeps
// the connection alive with pings.
func (g *Gateway) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	conn := client.Conn
	ctx := client.Context()

	defer func() {
		client.DoneGoroutine()
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection closed"))
			return

		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				g.logger.Debug("Write error",
					zap.String("conn_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

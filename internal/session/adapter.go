// Package session is the boundary-facing adapter a UI consumes: it keeps
// the local view of the current user, the active conversation and its
// message buffer, driven by relay events on one side and the external
// message store on the other.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"relay-service/internal/relay"
)

const writeWait = 10 * time.Second

// Adapter maintains a user's session against the relay and the external
// message store. It is safe for concurrent use.
type Adapter struct {
	userID     string
	followings []string
	store      MessageStore
	logger     *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	current  *Conversation
	messages []Message
	online   []string
	closed   bool
	done     chan struct{}
}

// NewAdapter creates a session adapter for one user. followings scopes
// the online-friends view; the relay itself broadcasts the unfiltered
// online set.
func NewAdapter(userID string, followings []string, store MessageStore, logger *zap.Logger) *Adapter {
	return &Adapter{
		userID:     userID,
		followings: followings,
		store:      store,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Connect dials the relay, announces the user via addUser, and starts
// consuming relay events until the connection drops or Close is called.
// Reconnection after a drop is the caller's responsibility and is a
// fresh Connect.
func (a *Adapter) Connect(ctx context.Context, relayURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	frame, err := relay.EncodeEvent(relay.EventAddUser, a.userID)
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to announce user: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop(conn)
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.logger.Debug("Relay connection closed",
					zap.String("user_id", a.userID),
					zap.Error(err),
				)
			}
			return
		}
		a.handleFrame(raw)
	}
}

func (a *Adapter) handleFrame(raw []byte) {
	env, err := relay.DecodeEnvelope(raw)
	if err != nil {
		a.logger.Warn("Dropping malformed relay frame", zap.Error(err))
		return
	}

	switch env.Event {
	case relay.EventGetMessage:
		var payload relay.MessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			a.logger.Warn("Dropping bad getMessage payload", zap.Error(err))
			return
		}
		a.handleIncoming(payload)

	case relay.EventGetUsers:
		var entries []relay.PresenceEntry
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			a.logger.Warn("Dropping bad getUsers payload", zap.Error(err))
			return
		}
		a.handlePresence(entries)

	default:
		a.logger.Debug("Ignoring relay event", zap.String("event", env.Event))
	}
}

// handleIncoming appends a forwarded message to the active conversation's
// buffer only when the sender belongs to that conversation. Anything else
// is dropped here; cross-conversation notification is a separate product
// surface, not this adapter's.
func (a *Adapter) handleIncoming(payload relay.MessagePayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || !contains(a.current.Members, payload.SenderID) {
		a.logger.Debug("Dropping message outside active conversation",
			zap.String("sender_id", payload.SenderID),
		)
		return
	}

	a.messages = append(a.messages, Message{
		ConversationID: a.current.ID,
		SenderID:       payload.SenderID,
		Text:           payload.Text,
		CreatedAt:      time.UnixMilli(payload.Timestamp),
	})
}

// handlePresence intersects the broadcast online set with the follow list
// to produce the display-ready online-friends view.
func (a *Adapter) handlePresence(entries []relay.PresenceEntry) {
	onlineSet := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		onlineSet[e.UserID] = struct{}{}
	}

	online := make([]string, 0, len(a.followings))
	for _, friend := range a.followings {
		if _, ok := onlineSet[friend]; ok {
			online = append(online, friend)
		}
	}

	a.mu.Lock()
	a.online = online
	a.mu.Unlock()
}

// OpenConversation makes a conversation active and loads its history from
// the store. The previous buffer is discarded.
func (a *Adapter) OpenConversation(ctx context.Context, conv Conversation) error {
	history, err := a.store.Messages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to load conversation history: %w", err)
	}

	a.mu.Lock()
	a.current = &conv
	a.messages = history
	a.mu.Unlock()
	return nil
}

// SendMessage persists the message through the store and emits it to the
// relay for live delivery. The two paths are independent: the relay emit
// is fire-and-forget and a relay failure does not undo persistence, nor
// does a store failure stop the emit. The returned error is the store's.
func (a *Adapter) SendMessage(ctx context.Context, receiverID, text string) (Message, error) {
	a.mu.Lock()
	conn := a.conn
	current := a.current
	a.mu.Unlock()

	if current == nil {
		return Message{}, errors.New("session: no active conversation")
	}

	if conn != nil {
		frame, err := relay.EncodeEvent(relay.EventSendMessage, relay.SendMessagePayload{
			SenderID:   a.userID,
			ReceiverID: receiverID,
			Text:       text,
		})
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				a.logger.Debug("Relay emit failed, store remains authoritative",
					zap.Error(err),
				)
			}
		}
	}

	stored, err := a.store.CreateMessage(ctx, current.ID, a.userID, text)
	if err != nil {
		return Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	a.mu.Lock()
	a.messages = append(a.messages, stored)
	a.mu.Unlock()
	return stored, nil
}

// Conversations lists the user's conversations from the store.
func (a *Adapter) Conversations(ctx context.Context) ([]Conversation, error) {
	return a.store.Conversations(ctx, a.userID)
}

// Messages returns a copy of the active conversation's buffer.
func (a *Adapter) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// OnlineFriends returns the latest follow-filtered online view.
func (a *Adapter) OnlineFriends() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.online))
	copy(out, a.online)
	return out
}

// Connected reports whether a relay connection is live.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Close tears down the relay connection.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	close(a.done)
	if a.conn != nil {
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = a.conn.Close()
		a.conn = nil
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

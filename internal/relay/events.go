package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names exchanged over the WebSocket connection.
const (
	// EventAddUser announces the logical user identity of a connection.
	// A connection that never sends addUser is never entered into the
	// registry and its closure triggers no presence change.
	EventAddUser = "addUser"

	// EventGetUsers carries the full online snapshot to every connection
	// after any presence change.
	EventGetUsers = "getUsers"

	// EventSendMessage requests a point-to-point forward to one user.
	EventSendMessage = "sendMessage"

	// EventGetMessage delivers a forwarded message to the online recipient.
	EventGetMessage = "getMessage"
)

// Envelope is the outer frame of every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessagePayload is the client's request to forward a message.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
}

// MessagePayload is the delivery sent to the recipient. Timestamp is the
// relay's forward time in Unix milliseconds; the durable created_at lives
// in the external message store.
type MessagePayload struct {
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceEntry is one element of the getUsers snapshot.
type PresenceEntry struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// DecodeEnvelope parses an incoming frame. A frame without an event name
// is malformed.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope missing event name")
	}
	return env, nil
}

// EncodeEvent wraps a payload in an envelope and marshals it.
func EncodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return raw, nil
}

// NewMessageEvent builds a getMessage frame stamped with the current time.
func NewMessageEvent(senderID, text string) ([]byte, error) {
	return EncodeEvent(EventGetMessage, MessagePayload{
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPresenceEvent builds a getUsers frame from a snapshot.
func NewPresenceEvent(entries []PresenceEntry) ([]byte, error) {
	return EncodeEvent(EventGetUsers, entries)
}

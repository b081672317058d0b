package session

import (
	"context"
	"time"
)

// Conversation is the external store's view of a chat between users.
type Conversation struct {
	ID      string
	Members []string
}

// Message is a durable chat message as returned by the external store.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	CreatedAt      time.Time
}

// MessageStore is the external REST collaborator that owns durability.
// The relay never persists anything: sending over the live channel and
// persisting through this store are independent operations, and offline
// delivery happens through Messages on the next chat open, not through
// the relay.
type MessageStore interface {
	// Conversations lists the conversations a user participates in.
	Conversations(ctx context.Context, userID string) ([]Conversation, error)

	// Messages returns the history of a conversation.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	// CreateMessage persists a message and returns the canonical stored copy.
	CreateMessage(ctx context.Context, conversationID, senderID, text string) (Message, error)
}

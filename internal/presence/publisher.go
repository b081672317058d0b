// Package presence fans presence transitions out over Redis Pub/Sub so
// sibling relay instances and interested services can observe who came
// online or went offline. The in-process registry stays authoritative;
// the feed is observation only.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ChannelName is the Redis Pub/Sub channel for presence changes.
	ChannelName = "relay:presence"

	// Change types.
	ChangeOnline  = "online"
	ChangeOffline = "offline"
)

// Change is one presence transition published to the feed.
type Change struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"` // "online" or "offline"
	UserID     string `json:"user_id"`
	InstanceID string `json:"instance_id"`
	OccurredAt int64  `json:"occurred_at"` // Unix milliseconds
}

// Publisher publishes presence changes to Redis Pub/Sub. It satisfies the
// gateway's PresenceNotifier contract; publish failures are logged and
// dropped, never surfaced into the connection path.
type Publisher struct {
	redis      *redis.Client
	logger     *zap.Logger
	instanceID string
}

// NewPublisher creates a presence feed publisher.
func NewPublisher(redisClient *redis.Client, logger *zap.Logger, instanceID string) *Publisher {
	return &Publisher{
		redis:      redisClient,
		logger:     logger,
		instanceID: instanceID,
	}
}

// UserOnline publishes an online transition.
func (p *Publisher) UserOnline(userID string) {
	p.publish(ChangeOnline, userID)
}

// UserOffline publishes an offline transition.
func (p *Publisher) UserOffline(userID string) {
	p.publish(ChangeOffline, userID)
}

func (p *Publisher) publish(changeType, userID string) {
	change := Change{
		EventID:    uuid.New().String(),
		Type:       changeType,
		UserID:     userID,
		InstanceID: p.instanceID,
		OccurredAt: time.Now().UnixMilli(),
	}

	if err := p.Publish(context.Background(), change); err != nil {
		p.logger.Error("Failed to publish presence change",
			zap.String("type", changeType),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// Publish publishes a single change to the feed channel.
func (p *Publisher) Publish(ctx context.Context, change Change) error {
	jsonData, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal presence change: %w", err)
	}

	if err := p.redis.Publish(ctx, ChannelName, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", ChannelName, err)
	}
	return nil
}

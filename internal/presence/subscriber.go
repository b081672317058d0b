package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Reconnection settings
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	reconnectBackoffMulti = 2
)

// ChangeHandler is called for every presence change received from the feed.
type ChangeHandler func(ctx context.Context, change Change)

// Subscriber subscribes to the presence feed and dispatches changes to a
// handler. It reconnects automatically with exponential backoff.
type Subscriber struct {
	redis   *redis.Client
	logger  *zap.Logger
	handler ChangeHandler
	pubsub  *redis.PubSub

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewSubscriber creates a presence feed subscriber.
func NewSubscriber(redisClient *redis.Client, logger *zap.Logger, handler ChangeHandler) *Subscriber {
	return &Subscriber{
		redis:   redisClient,
		logger:  logger,
		handler: handler,
	}
}

// Start begins listening to the feed channel. Non-blocking; a goroutine
// with auto-reconnection owns the subscription.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.subscribe(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	go s.listenWithReconnect(ctx)

	return nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	s.pubsub = s.redis.Subscribe(ctx, ChannelName)

	// Wait for subscription confirmation
	_, err := s.pubsub.Receive(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Subscribed to presence feed", zap.String("channel", ChannelName))
	return nil
}

// listenWithReconnect continuously reads changes and auto-reconnects on failure.
func (s *Subscriber) listenWithReconnect(ctx context.Context) {
	reconnectDelay := initialReconnectDelay

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Presence subscriber context cancelled, stopping")
			return
		default:
		}

		s.listen(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}

		s.logger.Warn("Presence feed connection lost, attempting reconnection",
			zap.Duration("delay", reconnectDelay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		if s.pubsub != nil {
			_ = s.pubsub.Close()
		}

		if err := s.subscribe(ctx); err != nil {
			s.logger.Error("Failed to reconnect to presence feed",
				zap.Error(err),
				zap.Duration("next_retry", reconnectDelay),
			)

			reconnectDelay *= reconnectBackoffMulti
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			continue
		}

		s.logger.Info("Reconnected to presence feed")
		reconnectDelay = initialReconnectDelay
	}
}

// listen reads changes from the feed channel until it closes.
func (s *Subscriber) listen(ctx context.Context) {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				s.logger.Info("Presence feed channel closed")
				return
			}

			s.processMessage(ctx, msg)
		}
	}
}

func (s *Subscriber) processMessage(ctx context.Context, msg *redis.Message) {
	var change Change
	if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
		s.logger.Error("Failed to unmarshal presence change",
			zap.Error(err),
			zap.String("payload", msg.Payload),
		)
		return
	}

	s.logger.Debug("Received presence change",
		zap.String("event_id", change.EventID),
		zap.String("type", change.Type),
		zap.String("user_id", change.UserID),
		zap.String("instance_id", change.InstanceID),
	)

	if s.handler != nil {
		s.handler(ctx, change)
	}
}

// Stop gracefully stops the subscriber.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.cancel != nil {
		s.cancel()
	}

	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			s.logger.Error("Failed to close presence feed subscription", zap.Error(err))
			return err
		}
	}

	s.logger.Info("Presence subscriber stopped")
	return nil
}

// IsRunning returns whether the subscriber is currently running.
func (s *Subscriber) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

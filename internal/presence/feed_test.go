package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func TestSubscriber_StartStop(t *testing.T) {
	_, client := setupTestRedis(t)
	logger := zap.NewNop()

	handler := func(ctx context.Context, change Change) {}
	sub := NewSubscriber(client, logger, handler)

	err := sub.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, sub.IsRunning())

	// Starting again should be no-op
	err = sub.Start(context.Background())
	require.NoError(t, err)

	err = sub.Stop()
	require.NoError(t, err)
	assert.False(t, sub.IsRunning())

	// Stopping again should be no-op
	err = sub.Stop()
	require.NoError(t, err)
}

func TestPublisher_SubscriberRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	logger := zap.NewNop()

	var mu sync.Mutex
	var received []Change
	handler := func(ctx context.Context, change Change) {
		mu.Lock()
		received = append(received, change)
		mu.Unlock()
	}

	sub := NewSubscriber(client, logger, handler)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(func() { _ = sub.Stop() })

	pub := NewPublisher(client, logger, "relay-1")
	pub.UserOnline("user-a")
	pub.UserOffline("user-a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond, "changes not received")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ChangeOnline, received[0].Type)
	assert.Equal(t, "user-a", received[0].UserID)
	assert.Equal(t, "relay-1", received[0].InstanceID)
	assert.NotEmpty(t, received[0].EventID)
	assert.InDelta(t, time.Now().UnixMilli(), received[0].OccurredAt, 5000)

	assert.Equal(t, ChangeOffline, received[1].Type)
}

func TestSubscriber_IgnoresMalformedPayload(t *testing.T) {
	_, client := setupTestRedis(t)
	logger := zap.NewNop()

	var mu sync.Mutex
	var received []Change
	handler := func(ctx context.Context, change Change) {
		mu.Lock()
		received = append(received, change)
		mu.Unlock()
	}

	sub := NewSubscriber(client, logger, handler)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(func() { _ = sub.Stop() })

	// Garbage on the channel is dropped without stopping the subscriber
	require.NoError(t, client.Publish(context.Background(), ChannelName, "not json").Err())

	valid, err := json.Marshal(Change{EventID: "e-1", Type: ChangeOnline, UserID: "user-a"})
	require.NoError(t, err)
	require.NoError(t, client.Publish(context.Background(), ChannelName, valid).Err())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "e-1", received[0].EventID)
}

//go:build ignore

// This script tails the relay's presence feed and prints every change.
// Run with: go run scripts/presence-feed-tap.go -redis localhost:6379
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relay-service/internal/presence"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer client.Close()

	subscriber := presence.NewSubscriber(client, logger, func(_ context.Context, c presence.Change) {
		log.Printf("[%s] user=%s instance=%s at=%d", c.Type, c.UserID, c.InstanceID, c.OccurredAt)
	})
	if err := subscriber.Start(ctx); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer subscriber.Stop()

	log.Printf("Tailing %s on %s", presence.ChannelName, *redisAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

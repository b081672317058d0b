package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relay-service/internal/config"
	"relay-service/internal/presence"
	"relay-service/internal/relay"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Warn("Failed to load config file, relying on environment", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	metrics := relay.NewMetrics(promRegistry)

	registry := relay.NewRegistry(cfg.GetPresencePolicy(logger))
	sessions := relay.NewSessionSet()
	broadcaster := relay.NewBroadcaster(registry, sessions, logger, metrics)
	router := relay.NewRouter(registry, sessions, logger, metrics)

	opts := []relay.GatewayOption{
		relay.WithGatewayMetrics(metrics),
		relay.WithSendBuffer(cfg.GetSendBufferSize(logger)),
	}

	// The presence feed is optional: without Redis the relay is a
	// self-contained single instance.
	var (
		redisClient *redis.Client
		subscriber  *presence.Subscriber
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

		publisher := presence.NewPublisher(redisClient, logger, presence.InstanceID())
		opts = append(opts, relay.WithPresenceNotifier(publisher))

		// Surface sibling-instance transitions in this instance's logs.
		// Our own publishes come back on the same channel and are skipped.
		subscriber = presence.NewSubscriber(redisClient, logger, func(_ context.Context, change presence.Change) {
			if change.InstanceID == presence.InstanceID() {
				return
			}
			logger.Info("Presence change on sibling instance",
				zap.String("type", change.Type),
				zap.String("user_id", change.UserID),
				zap.String("instance_id", change.InstanceID),
			)
		})
		if err := subscriber.Start(context.Background()); err != nil {
			logger.Fatal("Failed to subscribe to presence feed", zap.Error(err))
		}
	}

	gateway := relay.NewGateway(registry, sessions, broadcaster, router, logger, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := cfg.HTTPServerAddress
	if addr == "" {
		addr = ":8900"
	}
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		clients := sessions.All()
		logger.Info("Closing client connections", zap.Int("count", len(clients)))

		done := make(chan struct{})
		go func() {
			for _, client := range clients {
				sessions.RemoveAndWait(client.ID)
			}
			close(done)
		}()

		select {
		case <-done:
			logger.Info("All client connections closed gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("Timeout waiting for connections to close, forcing shutdown")
		}

		if subscriber != nil {
			_ = subscriber.Stop()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}()

	logger.Info("Relay starting",
		zap.String("addr", addr),
		zap.String("instance_id", presence.InstanceID()),
		zap.String("presence_policy", registry.Policy().String()),
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe failed", zap.Error(err))
	}
	logger.Info("Relay stopped")
}

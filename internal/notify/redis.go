package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBridge relays hub events through a Redis channel so subscribers on
// other instances see changes made here. Events carry the publishing
// instance's ID; the bridge skips its own messages when they come back.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	id      string
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(address, password, channel string, hub *Hub) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		id:      uuid.New().String(),
	}, nil
}

// Publish delivers the event locally, then relays it to Redis in the
// background so a slow broker never delays the caller.
func (b *RedisBridge) Publish(e Event) {
	e.Origin = b.id
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.hub.Publish(e)

	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("failed to encode event for redis", "type", e.Type, "error", err)
		return
	}
	go func() {
		if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
			slog.Warn("failed to relay event to redis", "type", e.Type, "error", err)
		}
	}()
}

// Run subscribes to the Redis channel and feeds remote events into the
// local hub until the context is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	slog.Info("redis notify bridge started", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("redis notify bridge stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				slog.Warn("redis subscription closed")
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				slog.Debug("ignoring malformed bridge event", "error", err)
				continue
			}
			if e.Origin == b.id {
				continue
			}
			b.hub.Publish(e)
		}
	}
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBridge) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}

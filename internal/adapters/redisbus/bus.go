// Package redisbus publishes engine events to Redis using go-redis/v9.
package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length of the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Stream, when set, also appends every event to this Redis stream.
	Stream string
}

// Bus implements ports.EventPublisher with Redis Pub/Sub, optionally
// mirrored into a Redis stream for consumers that need history.
type Bus struct {
	rdb    *redis.Client
	stream string
}

// New creates a Bus and pings Redis to verify connectivity.
func New(ctx context.Context, cfg Config) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Bus{rdb: rdb, stream: cfg.Stream}, nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(rdb *redis.Client, stream string) *Bus {
	return &Bus{rdb: rdb, stream: stream}
}

// Publish sends a raw payload to a Pub/Sub channel and, if configured,
// appends it to the event stream.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	if b.stream == "" {
		return nil
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"channel": channel,
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", b.stream, err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

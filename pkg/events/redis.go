package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	// Channel is the Redis pub/sub channel events are published on.
	Channel = "bgp:events"

	recentKeyPrefix = "bgp:events:recent:" // + event type
	recentMax       = 1000
	recentTTL       = 48 * time.Hour
	redisTimeout    = 2 * time.Second
)

// RedisPublisher publishes events on Channel and keeps a capped list of the
// most recent events per type.
type RedisPublisher struct {
	redis  *redis.Client
	ctx    context.Context
	logger *slog.Logger
}

// NewRedisPublisher creates a publisher. A nil client makes Emit a no-op.
func NewRedisPublisher(ctx context.Context, client *redis.Client, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisPublisher{
		redis:  client,
		ctx:    ctx,
		logger: logger.With("component", "redis_publisher"),
	}
}

func (p *RedisPublisher) Emit(event models.BGPEvent) {
	if p.redis == nil {
		return
	}

	payload, err := Encode(event)
	if err != nil {
		p.logger.Error("failed to encode event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, redisTimeout)
	defer cancel()

	key := recentKeyPrefix + event.EventType
	pipe := p.redis.Pipeline()
	pipe.Publish(ctx, Channel, payload)
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, recentMax-1)
	pipe.Expire(ctx, key, recentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("redis publish failed", "type", event.EventType, "prefix", event.AffectedPrefix, "error", err)
	}
}

package pubsub

import (
	"context"
	"encoding/json"

	"table-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher mirrors every envelope to a redis channel named
// "<prefix>:<topic>" so out-of-process gateways can relay it.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Channel(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + ":" + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Log.Error("marshal envelope failed", zap.Error(err), zap.String("topic", env.Topic))
		return
	}
	if err := p.rdb.Publish(ctx, p.Channel(env.Topic), payload).Err(); err != nil {
		logger.Log.Warn("redis publish failed", zap.Error(err), zap.String("topic", env.Topic))
	}
}

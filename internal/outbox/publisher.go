package outbox

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers one outbox event to the message transport.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// RedisPublisher appends events to the Redis stream named after the topic.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher constructs a stream-backed publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"key":     key,
			"payload": payload,
		},
	}).Err()
}

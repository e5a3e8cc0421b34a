package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker adapts a go-redis client to the Broker surface. Queues are
// plain lists: producers LPUSH, workers BRPOP.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Push(ctx context.Context, queue string, payload []byte) error {
	return b.client.LPush(ctx, queue, payload).Err()
}

func (b *RedisBroker) Pop(ctx context.Context, queues []string, timeout time.Duration) (string, []byte, error) {
	res, err := b.client.BRPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("brpop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", nil, fmt.Errorf("brpop: unexpected reply of %d elements", len(res))
	}
	return res[0], []byte(res[1]), nil
}

func (b *RedisBroker) Len(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, queue).Result()
}

func (b *RedisBroker) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis lists and string keys:
// LPUSH/BRPOP for queues, SET EX/GET for results, SET NX EX for claims.
type RedisBroker struct {
	client *redis.Client
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to addr and verifies the connection with PING.
func NewRedisBroker(ctx context.Context, opts *redis.Options) (*RedisBroker, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(fmt.Sprintf("ping %s", opts.Addr), err)
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerFromClient wraps an existing client without pinging it.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Enqueue pushes message so that the oldest message is popped first.
func (b *RedisBroker) Enqueue(ctx context.Context, queueKey string, message []byte) error {
	if err := b.client.LPush(ctx, queueKey, message).Err(); err != nil {
		return b.mapErr(ctx, "enqueue", err)
	}
	return nil
}

// Dequeue blocks on BRPOP. Redis rounds block timeouts below one second up.
func (b *RedisBroker) Dequeue(ctx context.Context, queueKey string, blockTimeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, blockTimeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoMessage
		}
		return nil, b.mapErr(ctx, "dequeue", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue %s: unexpected reply %v", queueKey, res)
	}
	return []byte(res[1]), nil
}

// PutResult stores value with an expiry.
func (b *RedisBroker) PutResult(ctx context.Context, resultKey string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, resultKey, value, ttl).Err(); err != nil {
		return b.mapErr(ctx, "put result", err)
	}
	return nil
}

// GetResult returns ErrNoMessage for missing or expired keys.
func (b *RedisBroker) GetResult(ctx context.Context, resultKey string) ([]byte, error) {
	val, err := b.client.Get(ctx, resultKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoMessage
		}
		return nil, b.mapErr(ctx, "get result", err)
	}
	return val, nil
}

// Claim uses SET NX so concurrent dispatchers agree on a single winner.
func (b *RedisBroker) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, b.mapErr(ctx, "claim", err)
	}
	return ok, nil
}

// Close releases the connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// mapErr keeps caller cancellation distinct from store outages.
func (b *RedisBroker) mapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return unavailable(op, err)
}

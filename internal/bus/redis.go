package bus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus over a Redis deployment: the command queue is a list
// consumed with BRPOP, replies and book updates ride ordinary pub/sub.
type Redis struct {
	rdb      *redis.Client
	queueKey string
}

// NewRedis wraps an existing client. queueKey names the command list,
// conventionally "engine.commands".
func NewRedis(rdb *redis.Client, queueKey string) *Redis {
	return &Redis{rdb: rdb, queueKey: queueKey}
}

func (r *Redis) Push(ctx context.Context, payload []byte) error {
	return r.rdb.LPush(ctx, r.queueKey, payload).Err()
}

// Pop blocks on BRPOP in short slices so context cancellation is observed
// promptly even though the Redis protocol has no interruptible wait.
func (r *Redis) Pop(ctx context.Context) ([]byte, error) {
	for {
		res, err := r.rdb.BRPop(ctx, 5*time.Second, r.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		// BRPOP returns [key, value].
		return []byte(res[1]), nil
	}
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	sub := r.rdb.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

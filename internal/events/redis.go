package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"blogger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel carrying post events.
const RedisChannel = "blog:posts"

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a publisher using the provided Redis client.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, RedisChannel, payload).Err()
}

// Subscribe starts a background subscriber; it returns once the subscription is confirmed.
func (p *RedisPublisher) Subscribe(ctx context.Context, h Handler) error {
	if p.rdb == nil {
		return nil
	}
	sub := p.rdb.Subscribe(ctx, RedisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", RedisChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver(ctx, []byte(msg.Payload), h)
			}
		}
	}()
	return nil
}

func (p *RedisPublisher) Name() string { return "redis" }

// Close is a no-op; the Redis client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }

// deliver decodes one payload and hands it to h, containing panics.
func deliver(ctx context.Context, payload []byte, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.ErrorContext(ctx, "panic in event handler",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		observability.Logger.WarnContext(ctx, "dropping malformed post event", slog.String("error", err.Error()))
		return
	}
	h(ctx, ev)
}

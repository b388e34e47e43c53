// Package cache holds the Redis client and the stores built on it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"blogger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// errorCounter counts failed Redis commands by name. A cache miss is not a failure.
type errorCounter struct{}

func failed(cmd redis.Cmder) bool {
	err := cmd.Err()
	return err != nil && !errors.Is(err, redis.Nil)
}

func (errorCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if failed(cmd) {
			observability.RedisErrorRate.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (errorCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			if failed(cmd) {
				observability.RedisErrorRate.WithLabelValues(cmd.Name()).Inc()
			}
		}
		return err
	}
}

// NewClient builds a Redis client for addr, which may be a redis:// URL or host:port.
// The client is instrumented with error metrics but not yet verified.
func NewClient(addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		if opts, err = redis.ParseURL(addr); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}
	client := redis.NewClient(opts)
	client.AddHook(errorCounter{})
	return client, nil
}

// Connect returns a verified Redis client, or nil when addr is empty or Redis is
// unreachable. Callers treat a nil client as "run without Redis".
func Connect(ctx context.Context, addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	client, err := NewClient(addr)
	if err != nil {
		observability.Logger.Warn("Redis connection warning: invalid REDIS_URL (continuing without cache)",
			slog.String("addr", addr), slog.String("error", err.Error()))
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		observability.Logger.Warn("Redis connection warning (continuing without cache)", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	observability.Logger.Info("Redis connected successfully")
	return client
}

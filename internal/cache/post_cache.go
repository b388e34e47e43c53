package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"blogger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// PostTTL is how long a cached post lives without being invalidated.
const PostTTL = time.Minute

// generationTTL outlives any load that could still be running against a key.
const generationTTL = 10 * time.Minute

// PostKey is the cache key for a post looked up by id.
func PostKey(id string) string { return "post:id:" + id }

// SlugKey is the cache key for a post looked up by slug.
func SlugKey(slug string) string { return "post:slug:" + slug }

// PostCache is a best-effort cache-aside layer. A nil client or a failing Redis
// degrades to direct loads; cache errors never reach callers.
type PostCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPostCache returns a cache over rdb. rdb may be nil.
func NewPostCache(rdb *redis.Client, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = PostTTL
	}
	return &PostCache{rdb: rdb, ttl: ttl}
}

// Enabled reports whether a Redis client is attached.
func (c *PostCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func (c *PostCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	s, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with the cache TTL.
func (c *PostCache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// errStaleFill aborts a cache fill that raced with an invalidation.
var errStaleFill = errors.New("cache key invalidated during load")

// genKey counts invalidations of key. A fill only lands if the count it saw
// before loading is still current.
func genKey(key string) string { return key + ":gen" }

func (c *PostCache) generation(ctx context.Context, key string) (string, error) {
	gen, err := c.rdb.Get(ctx, genKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// fill stores v under key unless key was invalidated since gen was read.
func (c *PostCache) fill(ctx context.Context, key, gen string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, c.ttl)
			return nil
		})
		return err
	}, genKey(key))
}

// Aside tries Redis first, on miss it calls fetch (which must populate dest),
// then stores the result in Redis. A load that overlaps an Invalidate of the same
// key is returned to the caller but never cached.
func (c *PostCache) Aside(ctx context.Context, key string, dest any, fetch func() error) error {
	if !c.Enabled() {
		return fetch()
	}
	found, err := c.GetJSON(ctx, key, dest)
	if err != nil {
		observability.Logger.WarnContext(ctx, "cache read failed, loading from storage",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	if found {
		return nil
	}

	gen, genErr := c.generation(ctx, key)
	if err := fetch(); err != nil {
		return err
	}
	if genErr != nil {
		return nil
	}

	err = c.fill(ctx, key, gen, dest)
	switch {
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		observability.Logger.DebugContext(ctx, "cache fill skipped after invalidation", slog.String("key", key))
	case err != nil:
		observability.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Invalidate deletes the given keys and bumps their generations so loads already
// in flight do not write their rows back.
func (c *PostCache) Invalidate(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, k := range keys {
			pipe.Incr(ctx, genKey(k))
			pipe.Expire(ctx, genKey(k), generationTTL)
		}
		return nil
	})
	if err != nil {
		observability.Logger.WarnContext(ctx, "cache invalidation failed", slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

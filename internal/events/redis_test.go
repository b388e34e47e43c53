package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewRedisPublisher(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	require.NoError(t, p.Subscribe(ctx, func(_ context.Context, ev Event) {
		received <- ev
	}))

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(ctx, Event{
		Type:   PostCreated,
		Origin: "node-a",
		PostID: "p1",
		Slug:   "hello",
		Tags:   []string{"go"},
		At:     at,
	}))

	select {
	case ev := <-received:
		assert.Equal(t, PostCreated, ev.Type)
		assert.Equal(t, "p1", ev.PostID)
		assert.Equal(t, []string{"go"}, ev.Tags)
		assert.True(t, ev.At.Equal(at))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisPublisher_MalformedPayloadIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewRedisPublisher(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 2)
	require.NoError(t, p.Subscribe(ctx, func(_ context.Context, ev Event) { received <- ev }))

	require.NoError(t, rdb.Publish(ctx, RedisChannel, "not json").Err())
	require.NoError(t, p.Publish(ctx, Event{Type: PostDeleted, PostID: "p2"}))

	select {
	case ev := <-received:
		assert.Equal(t, "p2", ev.PostID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisPublisher_NilClient(t *testing.T) {
	p := NewRedisPublisher(nil)
	assert.NoError(t, p.Publish(context.Background(), Event{Type: PostCreated}))
	assert.NoError(t, p.Subscribe(context.Background(), func(context.Context, Event) {}))
	assert.Equal(t, "redis", p.Name())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.Equal(t, "none", p.Name())
	assert.NoError(t, p.Close())
}

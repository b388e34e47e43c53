package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedThing struct {
	Name string `json:"name"`
}

func newTestCache(t *testing.T) (*PostCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewPostCache(client, time.Minute), mr
}

func TestAside_LoadsOnceThenHits(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *cachedThing) func() error {
		return func() error {
			calls++
			dest.Name = "hello"
			return nil
		}
	}

	var first cachedThing
	require.NoError(t, c.Aside(ctx, PostKey("p1"), &first, fetch(&first)))
	var second cachedThing
	require.NoError(t, c.Aside(ctx, PostKey("p1"), &second, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "hello", second.Name)
	assert.True(t, mr.Exists("post:id:p1"))
	assert.Equal(t, time.Minute, mr.TTL("post:id:p1"))
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	boom := errors.New("boom")

	var dest cachedThing
	err := c.Aside(context.Background(), SlugKey("x"), &dest, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("post:slug:x"))
}

func TestAside_RedisDownFallsBackToFetch(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	var dest cachedThing
	err := c.Aside(context.Background(), PostKey("p1"), &dest, func() error {
		dest.Name = "from-db"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-db", dest.Name)
}

func TestInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.SetJSON(context.Background(), PostKey("p1"), cachedThing{Name: "a"}))
	require.NoError(t, c.SetJSON(context.Background(), SlugKey("a"), cachedThing{Name: "a"}))

	c.Invalidate(context.Background(), PostKey("p1"), SlugKey("a"))
	assert.False(t, mr.Exists("post:id:p1"))
	assert.False(t, mr.Exists("post:slug:a"))
}

func TestNilClientIsPassThrough(t *testing.T) {
	c := NewPostCache(nil, 0)
	assert.False(t, c.Enabled())

	calls := 0
	var dest cachedThing
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Aside(context.Background(), PostKey("p1"), &dest, func() error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
	c.Invalidate(context.Background(), PostKey("p1"))
}

func TestConnect(t *testing.T) {
	assert.Nil(t, Connect(context.Background(), ""))

	mr := miniredis.RunT(t)
	client := Connect(context.Background(), "redis://"+mr.Addr())
	require.NotNil(t, client)
	_ = client.Close()
}

func TestAside_LoadRacingInvalidateIsNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	// The row is read, then a writer commits and invalidates before the fill.
	var stale cachedThing
	require.NoError(t, c.Aside(ctx, PostKey("p1"), &stale, func() error {
		stale.Name = "before-edit"
		c.Invalidate(ctx, PostKey("p1"))
		return nil
	}))
	assert.Equal(t, "before-edit", stale.Name)
	assert.False(t, mr.Exists("post:id:p1"))

	var fresh cachedThing
	require.NoError(t, c.Aside(ctx, PostKey("p1"), &fresh, func() error {
		fresh.Name = "after-edit"
		return nil
	}))
	assert.True(t, mr.Exists("post:id:p1"))

	var hit cachedThing
	require.NoError(t, c.Aside(ctx, PostKey("p1"), &hit, func() error {
		t.Fatal("expected a cache hit")
		return nil
	}))
	assert.Equal(t, "after-edit", hit.Name)
}

func TestInvalidate_BumpsGeneration(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Invalidate(ctx, SlugKey("a"))
	c.Invalidate(ctx, SlugKey("a"))

	gen, err := mr.Get("post:slug:a:gen")
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, generationTTL, mr.TTL("post:slug:a:gen"))
}

package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shotsapp/shots/internal/model"
)

func TestCache_SetGetClear(t *testing.T) {
	t.Parallel()

	c := NewCache()
	_, ok := c.Get()
	assert.False(t, ok, "new cache should be empty")

	u := model.User{ID: "u1", Email: "a@example.com"}
	c.Set(u)
	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, u, got)

	c.Set(model.User{ID: "u2"})
	got, _ = c.Get()
	assert.Equal(t, "u2", got.ID, "last write wins")

	c.Clear()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_WatchEmitsCurrentThenChanges(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Set(model.User{ID: "u1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Watch(ctx)

	ev := recv(t, ch)
	assert.True(t, ev.Present)
	assert.Equal(t, "u1", ev.User.ID)

	c.Clear()
	ev = recv(t, ch)
	assert.False(t, ev.Present)
}

func TestCache_WatchLatestWins(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Watch(ctx)

	c.Set(model.User{ID: "a"})
	c.Set(model.User{ID: "b"})
	c.Set(model.User{ID: "c"})

	ev := recv(t, ch)
	assert.Equal(t, "c", ev.User.ID)
}

func TestCache_WatchClosesOnCancel(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Watch(ctx)
	<-ch

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	// Writes after cancellation must not panic on the closed channel.
	c.Set(model.User{ID: "u1"})
}

func TestCache_ClearOnEmptyIsSilent(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Watch(ctx)
	<-ch

	c.Clear()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func recv(t *testing.T, ch <-chan CacheEvent) CacheEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cache event")
		return CacheEvent{}
	}
}

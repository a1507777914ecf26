// Package profile holds the last-known user profile and reconciles it with
// the remote document store.
package profile

import (
	"context"
	"sync"

	"github.com/shotsapp/shots/internal/model"
)

// CacheEvent is a cache change. Present is false after Clear.
type CacheEvent struct {
	User    model.User
	Present bool
}

// Cache is the process-wide last-known user. The reconcile flow is the only
// writer; readers may be anywhere. Last write wins.
type Cache struct {
	mu       sync.RWMutex
	user     model.User
	present  bool
	watchers map[uint64]chan CacheEvent
	nextID   uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{watchers: make(map[uint64]chan CacheEvent)}
}

// Get returns the cached user, if any.
func (c *Cache) Get() (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.present
}

// Set replaces the cached user.
func (c *Cache) Set(u model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
	c.present = true
	c.broadcast(CacheEvent{User: u, Present: true})
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.present {
		return
	}
	c.user = model.User{}
	c.present = false
	c.broadcast(CacheEvent{})
}

// Watch returns a channel that receives the current value immediately and
// then every change. A slow reader only sees the latest value. The channel
// is closed when ctx is done.
func (c *Cache) Watch(ctx context.Context) <-chan CacheEvent {
	ch := make(chan CacheEvent, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- CacheEvent{User: c.user, Present: c.present}
	c.mu.Unlock()

	context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(ch)
		}
	})

	return ch
}

// broadcast must be called with mu held.
func (c *Cache) broadcast(ev CacheEvent) {
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

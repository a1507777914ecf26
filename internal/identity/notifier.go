package identity

import (
	"sync"

	"github.com/google/uuid"
)

// stateNotifier fans principal changes out to registered callbacks.
// emit serializes every delivery, so a callback never sees an older
// principal after a newer one.
type stateNotifier struct {
	emit sync.Mutex

	mu        sync.Mutex
	current   *Principal
	listeners map[uuid.UUID]func(*Principal)
}

func (n *stateNotifier) AddStateListener(fn func(*Principal)) func() {
	id := uuid.New()

	n.emit.Lock()
	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[uuid.UUID]func(*Principal))
	}
	n.listeners[id] = fn
	cur := n.current
	n.mu.Unlock()
	fn(clonePrincipal(cur))
	n.emit.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Current returns a copy of the signed-in principal, or nil.
func (n *stateNotifier) Current() *Principal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return clonePrincipal(n.current)
}

func (n *stateNotifier) set(p *Principal) {
	n.emit.Lock()
	defer n.emit.Unlock()

	n.mu.Lock()
	n.current = clonePrincipal(p)
	fns := make([]func(*Principal), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(clonePrincipal(p))
	}
}

func (n *stateNotifier) listenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func clonePrincipal(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

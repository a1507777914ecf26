package identity

import (
	"context"
	"sync"

	"github.com/shotsapp/shots/internal/model"
)

// Listener turns a StateSource callback into a SessionStream. Only one
// stream may be active at a time.
type Listener struct {
	source StateSource

	mu     sync.Mutex
	active *SessionStream
}

// NewListener creates a Listener over source.
func NewListener(source StateSource) *Listener {
	return &Listener{source: source}
}

// Listen starts a stream of session changes. The first value is the current
// session. If a stream is already active, the returned stream is already
// closed and yields nothing.
//
// The native registration is removed when the stream is closed or ctx ends.
func (l *Listener) Listen(ctx context.Context) *SessionStream {
	l.mu.Lock()
	if l.active != nil {
		l.mu.Unlock()
		return closedStream()
	}
	s := &SessionStream{
		ch:   make(chan model.Session, 1),
		done: make(chan struct{}),
	}
	l.active = s
	l.mu.Unlock()

	s.onClose = func() {
		l.mu.Lock()
		if l.active == s {
			l.active = nil
		}
		l.mu.Unlock()
	}
	remove := l.source.AddStateListener(s.deliver)
	s.mu.Lock()
	s.remove = remove
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	return s
}

// Active reports whether a stream is currently open.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}

// SessionStream is a latest-wins sequence of sessions. A reader that falls
// behind only sees the newest value.
type SessionStream struct {
	ch   chan model.Session
	done chan struct{}

	remove  func()
	onClose func()

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func closedStream() *SessionStream {
	s := &SessionStream{
		ch:     make(chan model.Session),
		done:   make(chan struct{}),
		closed: true,
	}
	close(s.ch)
	close(s.done)
	s.once.Do(func() {})
	return s
}

// Sessions returns the session channel. It is closed when the stream ends.
func (s *SessionStream) Sessions() <-chan model.Session {
	return s.ch
}

// Done is closed when the stream ends.
func (s *SessionStream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream and removes the native registration. It is safe to
// call more than once.
func (s *SessionStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		select {
		case <-s.ch:
		default:
		}
		close(s.ch)
		close(s.done)
		remove := s.remove
		s.mu.Unlock()

		if remove != nil {
			remove()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *SessionStream) deliver(p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- p.Session()
}

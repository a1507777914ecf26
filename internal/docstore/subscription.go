package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Subscription is the handle for one live query. It owns exactly one native
// listener; Close is the only way to release it.
//
// Snapshots always carry the full match set. A consumer that falls behind
// sees the newest snapshot only.
type Subscription struct {
	id      uuid.UUID
	query   Query
	out     chan []Document
	done    chan struct{}
	release func()

	mu     sync.Mutex
	closed bool
	err    error
	once   sync.Once
}

func newSubscription(q Query, release func()) *Subscription {
	return &Subscription{
		id:      uuid.New(),
		query:   q,
		out:     make(chan []Document, 1),
		done:    make(chan struct{}),
		release: release,
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Query returns the query being watched.
func (s *Subscription) Query() Query {
	return s.query
}

// Snapshots returns the snapshot channel. It is closed when the
// subscription ends.
func (s *Subscription) Snapshots() <-chan []Document {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the native listener. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.finish(nil)
	return nil
}

func (s *Subscription) fail(err error) {
	s.finish(err)
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		select {
		case <-s.out:
		default:
		}
		s.mu.Unlock()

		if s.release != nil {
			s.release()
		}

		s.mu.Lock()
		close(s.out)
		close(s.done)
		s.mu.Unlock()
	})
}

// publish replaces any pending snapshot with docs. It reports false once the
// subscription has ended.
func (s *Subscription) publish(docs []Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- docs
	return true
}

// closeOnCancel ties the subscription to ctx.
func (s *Subscription) closeOnCancel(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.finish(nil)
	})
	go func() {
		<-s.done
		stop()
	}()
}

// pump loads the match set once, then again after every signal on notify,
// publishing each result. It returns when ctx ends, notify closes, or a load
// fails.
func pump(ctx context.Context, sub *Subscription, notify <-chan struct{}, load func(ctx context.Context) ([]Document, error)) {
	docs, err := load(ctx)
	if err != nil {
		if ctx.Err() == nil {
			sub.fail(err)
		}
		return
	}
	if !sub.publish(docs) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				if ctx.Err() == nil {
					sub.fail(&Error{Kind: KindTransient, Op: "subscribe", Collection: sub.query.Collection, Description: "listener closed"})
				}
				return
			}
			docs, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					sub.fail(err)
				}
				return
			}
			if !sub.publish(docs) {
				return
			}
		}
	}
}

// signal performs a non-blocking send on a one-slot notify channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

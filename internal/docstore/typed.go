package docstore

import (
	"context"
	"sync"
)

// Codec maps an entity to and from its document form.
type Codec[T any] interface {
	ToWire(v T) (map[string]any, error)
	FromWire(doc map[string]any) (T, error)
}

// DocumentState is the result of an existence check.
type DocumentState[T any] struct {
	value  T
	exists bool
}

// Exists wraps a found value.
func Exists[T any](v T) DocumentState[T] {
	return DocumentState[T]{value: v, exists: true}
}

// Absent reports a missing document.
func Absent[T any]() DocumentState[T] {
	return DocumentState[T]{}
}

// Exists reports whether a document was found.
func (s DocumentState[T]) Exists() bool {
	return s.exists
}

// Value returns the found value.
func (s DocumentState[T]) Value() (T, bool) {
	return s.value, s.exists
}

// Typed binds a Store to a Codec.
type Typed[T any] struct {
	store Store
	codec Codec[T]
}

// NewTyped creates a typed view over store.
func NewTyped[T any](store Store, codec Codec[T]) *Typed[T] {
	return &Typed[T]{store: store, codec: codec}
}

// Store returns the underlying untyped store.
func (t *Typed[T]) Store() Store {
	return t.store
}

// Get decodes the document at id.
func (t *Typed[T]) Get(ctx context.Context, c Collection, id string) (T, error) {
	var zero T
	doc, err := t.store.GetOnce(ctx, c, id)
	if err != nil {
		return zero, err
	}
	v, err := t.codec.FromWire(doc)
	if err != nil {
		return zero, decodeError("get", c, id, err)
	}
	return v, nil
}

// Query decodes every match. One malformed document fails the call.
func (t *Typed[T]) Query(ctx context.Context, q Query) ([]T, error) {
	docs, err := t.store.QueryOnce(ctx, q)
	if err != nil {
		return nil, err
	}
	return t.decodeAll("query", q.Collection, docs)
}

// Check returns the first match as a DocumentState.
func (t *Typed[T]) Check(ctx context.Context, q Query) (DocumentState[T], error) {
	doc, ok, err := t.store.CheckExists(ctx, q)
	if err != nil {
		return Absent[T](), err
	}
	if !ok {
		return Absent[T](), nil
	}
	v, err := t.codec.FromWire(doc)
	if err != nil {
		return Absent[T](), decodeError("check", q.Collection, "", err)
	}
	return Exists(v), nil
}

// Put upserts v at id, or at a generated id when id is empty.
func (t *Typed[T]) Put(ctx context.Context, c Collection, id string, v T) (string, error) {
	doc, err := t.codec.ToWire(v)
	if err != nil {
		return "", &Error{Kind: KindWrite, Op: "upsert", Collection: c, ID: id, Description: "failed to encode document", Err: err}
	}
	return t.store.Upsert(ctx, c, id, doc)
}

// Create writes v at id unless a document is already there.
func (t *Typed[T]) Create(ctx context.Context, c Collection, id string, v T) (bool, error) {
	doc, err := t.codec.ToWire(v)
	if err != nil {
		return false, &Error{Kind: KindWrite, Op: "create", Collection: c, ID: id, Description: "failed to encode document", Err: err}
	}
	return t.store.CreateIfAbsent(ctx, c, id, doc)
}

// Watch subscribes to q and decodes every snapshot.
func (t *Typed[T]) Watch(ctx context.Context, q Query) (*Stream[T], error) {
	sub, err := t.store.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}
	s := &Stream[T]{
		sub: sub,
		out: make(chan []T),
	}
	go s.run(t)
	return s, nil
}

func (t *Typed[T]) decodeAll(op string, c Collection, docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := t.codec.FromWire(doc)
		if err != nil {
			id, _ := doc["id"].(string)
			return nil, decodeError(op, c, id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Stream is a decoded Subscription. A decode failure ends the stream and
// releases the listener.
type Stream[T any] struct {
	sub *Subscription
	out chan []T

	mu  sync.Mutex
	err error
}

// Snapshots returns decoded snapshots. The channel closes when the stream
// ends.
func (s *Stream[T]) Snapshots() <-chan []T {
	return s.out
}

// Err returns the reason the stream ended, if any.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return s.sub.Err()
}

// Close releases the underlying subscription.
func (s *Stream[T]) Close() error {
	return s.sub.Close()
}

func (s *Stream[T]) run(t *Typed[T]) {
	defer close(s.out)
	for docs := range s.sub.Snapshots() {
		vals, err := t.decodeAll("subscribe", s.sub.Query().Collection, docs)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.sub.fail(err)
			return
		}
		select {
		case <-s.sub.Done():
			return
		default:
		}
		select {
		case s.out <- vals:
		case <-s.sub.Done():
			return
		}
	}
}

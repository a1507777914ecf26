package docstore

import (
	"context"
	"time"

	"github.com/shotsapp/shots/internal/metrics"
)

// Instrumented records latency and error counts for every call on a Store.
type Instrumented struct {
	next     Store
	recorder metrics.Recorder
}

// Instrument wraps next. A nil recorder discards metrics.
func Instrument(next Store, recorder metrics.Recorder) *Instrumented {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Instrumented{next: next, recorder: recorder}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	// A missing document is an answer, not a failure.
	if IsNotFound(err) {
		err = nil
	}
	s.recorder.ObserveStoreOp(op, time.Since(start), err)
}

// GetOnce implements Store.
func (s *Instrumented) GetOnce(ctx context.Context, c Collection, id string) (Document, error) {
	start := time.Now()
	doc, err := s.next.GetOnce(ctx, c, id)
	s.observe("get", start, err)
	return doc, err
}

// QueryOnce implements Store.
func (s *Instrumented) QueryOnce(ctx context.Context, q Query) ([]Document, error) {
	start := time.Now()
	docs, err := s.next.QueryOnce(ctx, q)
	s.observe("query", start, err)
	return docs, err
}

// CheckExists implements Store.
func (s *Instrumented) CheckExists(ctx context.Context, q Query) (Document, bool, error) {
	start := time.Now()
	doc, ok, err := s.next.CheckExists(ctx, q)
	s.observe("check", start, err)
	return doc, ok, err
}

// Upsert implements Store.
func (s *Instrumented) Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error) {
	start := time.Now()
	out, err := s.next.Upsert(ctx, c, id, doc)
	s.observe("upsert", start, err)
	return out, err
}

// CreateIfAbsent implements Store.
func (s *Instrumented) CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error) {
	start := time.Now()
	created, err := s.next.CreateIfAbsent(ctx, c, id, doc)
	s.observe("create", start, err)
	return created, err
}

// UpdateField implements Store.
func (s *Instrumented) UpdateField(ctx context.Context, c Collection, id, field string, value any) error {
	start := time.Now()
	err := s.next.UpdateField(ctx, c, id, field, value)
	s.observe("update", start, err)
	return err
}

// DeleteOne implements Store.
func (s *Instrumented) DeleteOne(ctx context.Context, c Collection, id string) error {
	start := time.Now()
	err := s.next.DeleteOne(ctx, c, id)
	s.observe("delete", start, err)
	return err
}

// DeleteMany implements Store.
func (s *Instrumented) DeleteMany(ctx context.Context, c Collection, ids []string) error {
	start := time.Now()
	err := s.next.DeleteMany(ctx, c, ids)
	s.observe("delete_many", start, err)
	return err
}

// Subscribe implements Store and tracks the subscription until it ends.
func (s *Instrumented) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	start := time.Now()
	sub, err := s.next.Subscribe(ctx, q)
	s.observe("subscribe", start, err)
	if err != nil {
		return nil, err
	}

	s.recorder.AddActiveSubscriptions(1)
	go func() {
		<-sub.Done()
		s.recorder.AddActiveSubscriptions(-1)
	}()
	return sub, nil
}

// Ping implements Store.
func (s *Instrumented) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close implements Store.
func (s *Instrumented) Close() error {
	return s.next.Close()
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() Store {
	return s.next
}

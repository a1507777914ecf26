package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MemoryStore keeps documents in process. It backs tests and the
// development profile, and behaves like the remote backends: values are
// normalized on write and subscriptions re-emit full match sets.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[Collection]map[string]Document
	watchers map[Collection]map[uuid.UUID]chan struct{}
	subs     map[uuid.UUID]*Subscription
	closed   bool
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[Collection]map[string]Document),
		watchers: make(map[Collection]map[uuid.UUID]chan struct{}),
		subs:     make(map[uuid.UUID]*Subscription),
	}
}

// GetOnce implements Store.
func (m *MemoryStore) GetOnce(ctx context.Context, c Collection, id string) (Document, error) {
	if err := validateID("get", c, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap("get", c, id, KindTransient, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[c][id]
	if !ok {
		return nil, notFound("get", c, id)
	}
	return normalize(doc)
}

// QueryOnce implements Store. Results are ordered by document id.
func (m *MemoryStore) QueryOnce(ctx context.Context, q Query) ([]Document, error) {
	if err := validate("query", q.Collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, decodeError("query", q.Collection, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs[q.Collection]))
	for id := range m.docs[q.Collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, 0)
	for _, id := range ids {
		doc := m.docs[q.Collection][id]
		if !matches(doc, filters) {
			continue
		}
		cp, err := normalize(doc)
		if err != nil {
			return nil, decodeError("query", q.Collection, id, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// CheckExists implements Store.
func (m *MemoryStore) CheckExists(ctx context.Context, q Query) (Document, bool, error) {
	docs, err := m.QueryOnce(ctx, q)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error) {
	if err := validate("upsert", c); err != nil {
		return "", err
	}
	if id == "" {
		id = ulid.Make().String()
	}
	if err := ctx.Err(); err != nil {
		return "", wrap("upsert", c, id, KindTransient, err)
	}
	norm, err := normalize(doc)
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(c, id, norm)
	m.notify(c)
	return id, nil
}

// CreateIfAbsent implements Store.
func (m *MemoryStore) CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error) {
	if err := validateID("create", c, id); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, wrap("create", c, id, KindTransient, err)
	}
	norm, err := normalize(doc)
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[c][id]; ok {
		return false, nil
	}
	m.put(c, id, norm)
	m.notify(c)
	return true, nil
}

// UpdateField implements Store.
func (m *MemoryStore) UpdateField(ctx context.Context, c Collection, id, field string, value any) error {
	if err := validateID("update", c, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrap("update", c, id, KindTransient, err)
	}
	plain, err := ToPlain(value)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[c][id]
	if !ok {
		return notFound("update", c, id)
	}
	doc[field] = plain
	m.notify(c)
	return nil
}

// DeleteOne implements Store.
func (m *MemoryStore) DeleteOne(ctx context.Context, c Collection, id string) error {
	return m.DeleteMany(ctx, c, []string{id})
}

// DeleteMany implements Store.
func (m *MemoryStore) DeleteMany(ctx context.Context, c Collection, ids []string) error {
	if err := validate("delete", c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrap("delete", c, "", KindTransient, err)
	}
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs[c], id)
	}
	m.notify(c)
	return nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validate("subscribe", q.Collection); err != nil {
		return nil, err
	}

	key := uuid.New()
	notify := make(chan struct{}, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &Error{Kind: KindTransient, Op: "subscribe", Collection: q.Collection, Description: "store closed"}
	}
	if m.watchers[q.Collection] == nil {
		m.watchers[q.Collection] = make(map[uuid.UUID]chan struct{})
	}
	m.watchers[q.Collection][key] = notify

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(q, func() {
		cancel()
		m.mu.Lock()
		delete(m.watchers[q.Collection], key)
		delete(m.subs, key)
		m.mu.Unlock()
	})
	m.subs[key] = sub
	m.mu.Unlock()
	sub.closeOnCancel(ctx)

	go pump(pumpCtx, sub, notify, func(ctx context.Context) ([]Document, error) {
		return m.QueryOnce(ctx, q)
	})

	return sub, nil
}

// Listeners returns the number of registered subscription listeners.
func (m *MemoryStore) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, w := range m.watchers {
		n += len(w)
	}
	return n
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store. Open subscriptions end with a transient error.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		open = append(open, sub)
	}
	m.mu.Unlock()

	for _, sub := range open {
		sub.fail(&Error{Kind: KindTransient, Op: "subscribe", Collection: sub.Query().Collection, Description: "store closed"})
	}
	return nil
}

func (m *MemoryStore) put(c Collection, id string, doc Document) {
	if m.docs[c] == nil {
		m.docs[c] = make(map[string]Document)
	}
	m.docs[c][id] = doc
}

// notify must be called with m.mu held.
func (m *MemoryStore) notify(c Collection) {
	for _, ch := range m.watchers[c] {
		signal(ch)
	}
}

// Package docstore provides access to the remote profile document store.
//
// Store is the only surface that talks to a native database client. Backends
// exist for Redis, PostgreSQL, MongoDB and an in-process map. Documents are
// plain keyed maps holding JSON-native values; every backend normalizes on
// write so documents round-trip identically everywhere.
package docstore

import (
	"context"
	"fmt"
)

// Document is the wire form of a stored entity.
type Document = map[string]any

// Collection names a document collection.
type Collection string

// Known collections.
const (
	Users Collection = "users"
)

var collections = map[Collection]bool{
	Users: true,
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return collections[c]
}

func (c Collection) String() string {
	return string(c)
}

// Filter matches documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Query selects documents in a collection. Filters are joined with AND; an
// empty filter list matches every document.
type Query struct {
	Collection Collection
	Filters    []Filter
}

// Where starts a query on c with a single equality filter.
func Where(c Collection, field string, value any) Query {
	return Query{Collection: c, Filters: []Filter{{Field: field, Value: value}}}
}

// All selects every document in c.
func All(c Collection) Query {
	return Query{Collection: c}
}

// And adds an equality filter.
func (q Query) And(field string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// Store is the document store façade.
type Store interface {
	// GetOnce returns the document at id or an error of kind KindNotFound.
	GetOnce(ctx context.Context, c Collection, id string) (Document, error)
	// QueryOnce returns every document matching q.
	QueryOnce(ctx context.Context, q Query) ([]Document, error)
	// CheckExists returns the first match for q, if any.
	CheckExists(ctx context.Context, q Query) (Document, bool, error)
	// Upsert writes doc at id, or at a generated id when id is empty.
	// The id written is returned.
	Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error)
	// CreateIfAbsent writes doc at id only if nothing is stored there yet.
	CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error)
	// UpdateField sets one top-level field of an existing document.
	UpdateField(ctx context.Context, c Collection, id, field string, value any) error
	// DeleteOne removes the document at id. Missing documents are ignored.
	DeleteOne(ctx context.Context, c Collection, id string) error
	// DeleteMany removes all ids in one atomic batch.
	DeleteMany(ctx context.Context, c Collection, ids []string) error
	// Subscribe emits the full match set for q now and after every change.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

func validate(op string, c Collection) error {
	if !c.Valid() {
		return &Error{
			Kind:        KindWrite,
			Op:          op,
			Collection:  c,
			Description: fmt.Sprintf("unknown collection %q", string(c)),
		}
	}
	return nil
}

func validateID(op string, c Collection, id string) error {
	if err := validate(op, c); err != nil {
		return err
	}
	if id == "" {
		return &Error{Kind: KindWrite, Op: op, Collection: c, Description: "empty document id"}
	}
	return nil
}

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
)

// postgresChannel is the NOTIFY channel written by the documents trigger.
// The payload is the collection name.
const postgresChannel = "docstore_changes"

// PostgresStore keeps documents in a single jsonb table. Live queries use
// LISTEN/NOTIFY through a dedicated lib/pq listener per subscription.
type PostgresStore struct {
	pool        *pgxpool.Pool
	databaseURL string
}

// NewPostgres creates a connection pool and verifies connectivity.
// The schema must already be migrated.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, databaseURL: databaseURL}, nil
}

// GetOnce implements Store.
func (p *PostgresStore) GetOnce(ctx context.Context, c Collection, id string) (Document, error) {
	if err := validateID("get", c, id); err != nil {
		return nil, err
	}

	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		string(c), id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("get", c, id)
	}
	if err != nil {
		return nil, wrap("get", c, id, KindTransient, err)
	}

	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, decodeError("get", c, id, err)
	}
	return doc, nil
}

// QueryOnce implements Store. Equality filters are expressed as jsonb
// containment so they can use the GIN index.
func (p *PostgresStore) QueryOnce(ctx context.Context, q Query) ([]Document, error) {
	if err := validate("query", q.Collection); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, decodeError("query", q.Collection, "", err)
	}

	probe := make(map[string]any, len(filters))
	for _, f := range filters {
		probe[f.Field] = f.Value
	}
	probeJSON, err := json.Marshal(probe)
	if err != nil {
		return nil, decodeError("query", q.Collection, "", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, data FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY id`,
		string(q.Collection), string(probeJSON),
	)
	if err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, wrap("query", q.Collection, "", KindTransient, err)
		}
		doc, err := decodeJSON(raw)
		if err != nil {
			return nil, decodeError("query", q.Collection, id, err)
		}
		// Containment is looser than equality for arrays and objects.
		if matches(doc, filters) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	return out, nil
}

// CheckExists implements Store.
func (p *PostgresStore) CheckExists(ctx context.Context, q Query) (Document, bool, error) {
	docs, err := p.QueryOnce(ctx, q)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Upsert implements Store.
func (p *PostgresStore) Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error) {
	if err := validate("upsert", c); err != nil {
		return "", err
	}
	if id == "" {
		id = ulid.Make().String()
	}

	b, err := encodeDocument(doc)
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		string(c), id, string(b),
	)
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}
	return id, nil
}

// CreateIfAbsent implements Store with ON CONFLICT DO NOTHING.
func (p *PostgresStore) CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error) {
	if err := validateID("create", c, id); err != nil {
		return false, err
	}

	b, err := encodeDocument(doc)
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		string(c), id, string(b),
	)
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateField implements Store with jsonb_set.
func (p *PostgresStore) UpdateField(ctx context.Context, c Collection, id, field string, value any) error {
	if err := validateID("update", c, id); err != nil {
		return err
	}
	plain, err := ToPlain(value)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}
	b, err := json.Marshal(plain)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE documents
		 SET data = jsonb_set(data, ARRAY[$3::text], $4::jsonb, true), updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		string(c), id, field, string(b),
	)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("update", c, id)
	}
	return nil
}

// DeleteOne implements Store.
func (p *PostgresStore) DeleteOne(ctx context.Context, c Collection, id string) error {
	if err := validateID("delete", c, id); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		string(c), id,
	)
	return wrap("delete", c, id, KindWrite, err)
}

// DeleteMany implements Store inside one transaction.
func (p *PostgresStore) DeleteMany(ctx context.Context, c Collection, ids []string) error {
	if err := validate("delete", c); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`,
			string(c), ids,
		)
		return err
	})
	return wrap("delete", c, "", KindWrite, err)
}

// Subscribe implements Store. Each call opens its own LISTEN connection.
func (p *PostgresStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validate("subscribe", q.Collection); err != nil {
		return nil, err
	}

	listener := pq.NewListener(p.databaseURL, 100*time.Millisecond, 10*time.Second, nil)
	if err := listener.Listen(postgresChannel); err != nil {
		_ = listener.Close()
		return nil, wrap("subscribe", q.Collection, "", KindTransient, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	// Close the listener before cancelling so its delivery loop is never
	// left blocked on an undrained Notify channel.
	sub := newSubscription(q, func() {
		_ = listener.Close()
		cancel()
	})
	sub.closeOnCancel(ctx)

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil notification follows a reconnect; changes may
				// have been missed, so reload.
				if n == nil || n.Extra == string(q.Collection) {
					signal(notify)
				}
			}
		}
	}()

	go pump(pumpCtx, sub, notify, func(ctx context.Context) ([]Document, error) {
		return p.QueryOnce(ctx, q)
	})

	return sub, nil
}

// Ping implements Store.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Pool returns the underlying connection pool.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

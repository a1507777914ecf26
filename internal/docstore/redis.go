package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	docstore:{collection}:doc:{id}   JSON document
//	docstore:{collection}:ids        set of document ids
//	docstore:{collection}:changes    pub/sub channel, payload is the id
const redisKeyPrefix = "docstore"

const maxOptimisticRetries = 5

// RedisStore stores documents as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisDocKey(c Collection, id string) string {
	return fmt.Sprintf("%s:%s:doc:%s", redisKeyPrefix, c, id)
}

func redisIndexKey(c Collection) string {
	return fmt.Sprintf("%s:%s:ids", redisKeyPrefix, c)
}

func redisChannel(c Collection) string {
	return fmt.Sprintf("%s:%s:changes", redisKeyPrefix, c)
}

// GetOnce implements Store.
func (r *RedisStore) GetOnce(ctx context.Context, c Collection, id string) (Document, error) {
	if err := validateID("get", c, id); err != nil {
		return nil, err
	}

	b, err := r.client.Get(ctx, redisDocKey(c, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("get", c, id)
	}
	if err != nil {
		return nil, wrap("get", c, id, KindTransient, err)
	}

	doc, err := decodeJSON(b)
	if err != nil {
		return nil, decodeError("get", c, id, err)
	}
	return doc, nil
}

// QueryOnce implements Store. Filtering happens client side over the
// collection's id set.
func (r *RedisStore) QueryOnce(ctx context.Context, q Query) ([]Document, error) {
	if err := validate("query", q.Collection); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, decodeError("query", q.Collection, "", err)
	}

	ids, err := r.client.SMembers(ctx, redisIndexKey(q.Collection)).Result()
	if err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	out := make([]Document, 0)
	if len(ids) == 0 {
		return out, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisDocKey(q.Collection, id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}

	for i, v := range vals {
		// Index entries can briefly outlive their document.
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, decodeError("query", q.Collection, ids[i], fmt.Errorf("unexpected value type %T", v))
		}
		doc, err := decodeJSON([]byte(s))
		if err != nil {
			return nil, decodeError("query", q.Collection, ids[i], err)
		}
		if matches(doc, filters) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// CheckExists implements Store.
func (r *RedisStore) CheckExists(ctx context.Context, q Query) (Document, bool, error) {
	docs, err := r.QueryOnce(ctx, q)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Upsert implements Store.
func (r *RedisStore) Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error) {
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

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocKey(c, id), b, 0)
		pipe.SAdd(ctx, redisIndexKey(c), id)
		pipe.Publish(ctx, redisChannel(c), id)
		return nil
	})
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}
	return id, nil
}

// createScript writes the document only when absent and always indexes the
// id, so a document left unindexed by an earlier failure is repaired.
//
//	KEYS[1] document key, KEYS[2] index set
//	ARGV[1] JSON document, ARGV[2] id, ARGV[3] change channel
var createScript = redis.NewScript(`
local created = redis.call("SET", KEYS[1], ARGV[1], "NX")
redis.call("SADD", KEYS[2], ARGV[2])
if created then
	redis.call("PUBLISH", ARGV[3], ARGV[2])
	return 1
end
return 0
`)

// CreateIfAbsent implements Store with a script that writes and indexes in
// one step.
func (r *RedisStore) CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error) {
	if err := validateID("create", c, id); err != nil {
		return false, err
	}

	b, err := encodeDocument(doc)
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}

	created, err := createScript.Run(ctx, r.client,
		[]string{redisDocKey(c, id), redisIndexKey(c)},
		string(b), id, redisChannel(c),
	).Int()
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}
	return created == 1, nil
}

// UpdateField implements Store with an optimistic WATCH/MULTI transaction.
func (r *RedisStore) UpdateField(ctx context.Context, c Collection, id, field string, value any) error {
	if err := validateID("update", c, id); err != nil {
		return err
	}
	plain, err := ToPlain(value)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}

	key := redisDocKey(c, id)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound("update", c, id)
		}
		if err != nil {
			return err
		}
		doc, err := decodeJSON(b)
		if err != nil {
			return decodeError("update", c, id, err)
		}
		doc[field] = plain
		nb, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, 0)
			pipe.Publish(ctx, redisChannel(c), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxOptimisticRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return wrap("update", c, id, KindWrite, err)
		}
	}
	return wrap("update", c, id, KindWrite, err)
}

// DeleteOne implements Store.
func (r *RedisStore) DeleteOne(ctx context.Context, c Collection, id string) error {
	return r.DeleteMany(ctx, c, []string{id})
}

// DeleteMany implements Store in a single MULTI/EXEC.
func (r *RedisStore) DeleteMany(ctx context.Context, c Collection, ids []string) error {
	if err := validate("delete", c); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = redisDocKey(c, id)
		members[i] = id
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, redisIndexKey(c), members...)
		pipe.Publish(ctx, redisChannel(c), "")
		return nil
	})
	return wrap("delete", c, "", KindWrite, err)
}

// Subscribe implements Store with one Pub/Sub connection per call.
func (r *RedisStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validate("subscribe", q.Collection); err != nil {
		return nil, err
	}

	pubsub := r.client.Subscribe(ctx, redisChannel(q.Collection))
	// Wait for the subscription confirmation so no change is missed
	// between the initial load and the first message.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, wrap("subscribe", q.Collection, "", KindTransient, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(q, func() {
		cancel()
		_ = pubsub.Close()
	})
	sub.closeOnCancel(ctx)

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		msgs := pubsub.Channel()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(notify)
			}
		}
	}()

	go pump(pumpCtx, sub, notify, func(ctx context.Context) ([]Document, error) {
		return r.QueryOnce(ctx, q)
	})

	return sub, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func encodeDocument(doc Document) ([]byte, error) {
	norm, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

//go:build integration

package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shotsapp/shots/internal/testutil"
)

func TestRedisStore(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewRedis(ctx, redisURL)
		require.NoError(t, err)
		require.NoError(t, testutil.FlushRedis(ctx, s.Client()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	databaseURL := testutil.RequireEnv(t, "DATABASE_URL")
	require.NoError(t, Migrate(databaseURL))

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewPostgres(ctx, databaseURL)
		require.NoError(t, err)

		unlock, err := testutil.AcquireDBLock(ctx, s.Pool())
		require.NoError(t, err)

		_, err = s.Pool().Exec(ctx, `DELETE FROM documents`)
		require.NoError(t, err)

		t.Cleanup(func() {
			_ = unlock()
			_ = s.Close()
		})
		return s
	})
}

func TestMongoStore(t *testing.T) {
	mongoURL := testutil.RequireEnv(t, "MONGO_URL")

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewMongo(ctx, mongoURL, testutil.UniqueID("shots_test"))
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.db.Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestRedisStore_ReleasesPubSub(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	s, err := NewRedis(ctx, redisURL)
	require.NoError(t, err)
	defer s.Close()

	sub, err := s.Subscribe(ctx, All(Users))
	require.NoError(t, err)
	_ = nextSnapshot(t, sub)

	counts, err := s.Client().PubSubNumSub(ctx, redisChannel(Users)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[redisChannel(Users)])

	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool {
		counts, err := s.Client().PubSubNumSub(ctx, redisChannel(Users)).Result()
		return err == nil && counts[redisChannel(Users)] == 0
	}, waitFor, 20*time.Millisecond)
}

func TestRedisStore_CreateIfAbsentIndexesExistingDocument(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	s, err := NewRedis(ctx, redisURL)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, testutil.FlushRedis(ctx, s.Client()))

	// A document whose index update never landed.
	b, err := encodeDocument(Document{"id": "u1", "name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, s.Client().Set(ctx, redisDocKey(Users, "u1"), b, 0).Err())

	created, err := s.CreateIfAbsent(ctx, Users, "u1", Document{"id": "u1", "name": "Other"})
	require.NoError(t, err)
	assert.False(t, created)

	doc, ok, err := s.CheckExists(ctx, Where(Users, "id", "u1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", doc["name"])

	docs, err := s.QueryOnce(ctx, All(Users))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRedisStore_CreateIfAbsentWritesAndIndexes(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	s, err := NewRedis(ctx, redisURL)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, testutil.FlushRedis(ctx, s.Client()))

	created, err := s.CreateIfAbsent(ctx, Users, "u2", Document{"id": "u2"})
	require.NoError(t, err)
	assert.True(t, created)

	member, err := s.Client().SIsMember(ctx, redisIndexKey(Users), "u2").Result()
	require.NoError(t, err)
	assert.True(t, member)
}

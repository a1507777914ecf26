package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profile is a small entity used to exercise the typed layer.
type profile struct {
	ID    string
	Name  string
	Score int
}

type profileCodec struct{}

func (profileCodec) ToWire(p profile) (map[string]any, error) {
	doc := map[string]any{"id": p.ID, "score": p.Score}
	if p.Name != "" {
		doc["name"] = p.Name
	}
	return doc, nil
}

func (profileCodec) FromWire(doc map[string]any) (profile, error) {
	id, ok := doc["id"].(string)
	if !ok {
		return profile{}, errors.New("missing id")
	}
	p := profile{ID: id}
	p.Name, _ = doc["name"].(string)
	score, ok := doc["score"].(float64)
	if !ok {
		return profile{}, errors.New("score is not a number")
	}
	p.Score = int(score)
	return p, nil
}

const waitFor = 3 * time.Second

// runStoreSuite exercises the Store contract. newStore must return an empty
// store; the suite closes it.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetOnceMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetOnce(context.Background(), Users, "nobody")
		require.Error(t, err)
		assert.True(t, IsNotFound(err), "want not found, got %v", err)
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("CheckExistsEmptyThenPresent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typed := NewTyped[profile](s, profileCodec{})

		state, err := typed.Check(ctx, Where(Users, "id", "u1"))
		require.NoError(t, err)
		assert.False(t, state.Exists())

		_, err = typed.Put(ctx, Users, "u1", profile{ID: "u1", Name: "Ada", Score: 3})
		require.NoError(t, err)

		state, err = typed.Check(ctx, Where(Users, "id", "u1"))
		require.NoError(t, err)
		got, ok := state.Value()
		require.True(t, ok)
		assert.Equal(t, "u1", got.ID)
		assert.Equal(t, "Ada", got.Name)
	})

	t.Run("UpsertGeneratedIDRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typed := NewTyped[profile](s, profileCodec{})

		in := profile{ID: "external-1", Name: "Grace", Score: 7}
		id, err := typed.Put(ctx, Users, "", in)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		all, err := typed.Query(ctx, All(Users))
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, in, all[0])

		byKey, err := typed.Get(ctx, Users, id)
		require.NoError(t, err)
		assert.Equal(t, in, byKey)
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, Users, "u1", Document{"id": "u1", "name": "old"})
		require.NoError(t, err)
		_, err = s.Upsert(ctx, Users, "u1", Document{"id": "u1", "name": "new"})
		require.NoError(t, err)

		doc, err := s.GetOnce(ctx, Users, "u1")
		require.NoError(t, err)
		assert.Equal(t, "new", doc["name"])

		docs, err := s.QueryOnce(ctx, All(Users))
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("CreateIfAbsentDoesNotOverwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateIfAbsent(ctx, Users, "u1", Document{"id": "u1", "createdAt": "2020-01-01T00:00:00Z"})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.CreateIfAbsent(ctx, Users, "u1", Document{"id": "u1", "createdAt": "2030-01-01T00:00:00Z"})
		require.NoError(t, err)
		assert.False(t, created)

		doc, err := s.GetOnce(ctx, Users, "u1")
		require.NoError(t, err)
		assert.Equal(t, "2020-01-01T00:00:00Z", doc["createdAt"])
	})

	t.Run("QueryFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, d := range []Document{
			{"id": "a", "team": "red", "level": 1},
			{"id": "b", "team": "blue", "level": 1},
			{"id": "c", "team": "red", "level": 2},
		} {
			_, err := s.Upsert(ctx, Users, d["id"].(string), d)
			require.NoError(t, err)
		}

		red, err := s.QueryOnce(ctx, Where(Users, "team", "red"))
		require.NoError(t, err)
		assert.Len(t, red, 2)

		redOne, err := s.QueryOnce(ctx, Where(Users, "team", "red").And("level", 1))
		require.NoError(t, err)
		require.Len(t, redOne, 1)
		assert.Equal(t, "a", redOne[0]["id"])

		none, err := s.QueryOnce(ctx, Where(Users, "team", "green"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("QueryFailsFastOnDecode", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typed := NewTyped[profile](s, profileCodec{})

		_, err := typed.Put(ctx, Users, "good", profile{ID: "good", Score: 1})
		require.NoError(t, err)
		_, err = s.Upsert(ctx, Users, "bad", Document{"id": "bad", "score": "lots"})
		require.NoError(t, err)

		_, err = typed.Query(ctx, All(Users))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDecode), "want decode error, got %v", err)
	})

	t.Run("UpdateFieldStoresPlainMap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, Users, "u1", Document{"id": "u1"})
		require.NoError(t, err)

		type prefs struct {
			Theme  string `json:"theme"`
			Alerts bool   `json:"alerts"`
		}
		require.NoError(t, s.UpdateField(ctx, Users, "u1", "prefs", prefs{Theme: "dark", Alerts: true}))

		doc, err := s.GetOnce(ctx, Users, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"theme": "dark", "alerts": true}, doc["prefs"])

		err = s.UpdateField(ctx, Users, "missing", "prefs", 1)
		assert.True(t, IsNotFound(err), "want not found, got %v", err)
	})

	t.Run("DeleteOneAndMany", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"a", "b", "c"} {
			_, err := s.Upsert(ctx, Users, id, Document{"id": id})
			require.NoError(t, err)
		}

		require.NoError(t, s.DeleteOne(ctx, Users, "a"))
		require.NoError(t, s.DeleteOne(ctx, Users, "a"))
		require.NoError(t, s.DeleteMany(ctx, Users, []string{"b", "c", "zzz"}))

		docs, err := s.QueryOnce(ctx, All(Users))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("UnknownCollection", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Upsert(context.Background(), Collection("photos"), "p1", Document{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrWrite))
	})

	t.Run("SubscribeEmitsFullSet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, Users, "a", Document{"id": "a", "team": "red"})
		require.NoError(t, err)

		sub, err := s.Subscribe(ctx, Where(Users, "team", "red"))
		require.NoError(t, err)
		defer sub.Close()

		first := nextSnapshot(t, sub)
		require.Len(t, first, 1)

		_, err = s.Upsert(ctx, Users, "b", Document{"id": "b", "team": "red"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			select {
			case docs := <-sub.Snapshots():
				return len(docs) == 2
			default:
				return false
			}
		}, waitFor, 10*time.Millisecond, "expected a snapshot with both documents")
	})

	t.Run("SubscribeCloseStopsEmissions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sub, err := s.Subscribe(ctx, All(Users))
		require.NoError(t, err)
		_ = nextSnapshot(t, sub)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		_, err = s.Upsert(ctx, Users, "late", Document{"id": "late"})
		require.NoError(t, err)

		select {
		case docs, ok := <-sub.Snapshots():
			if ok {
				t.Fatalf("unexpected snapshot after close: %v", docs)
			}
		case <-time.After(300 * time.Millisecond):
			t.Fatal("snapshot channel not closed after Close")
		}
		assert.NoError(t, sub.Err())
	})

	t.Run("SubscribeContextCancel", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())

		sub, err := s.Subscribe(ctx, All(Users))
		require.NoError(t, err)
		_ = nextSnapshot(t, sub)

		cancel()

		select {
		case <-sub.Done():
		case <-time.After(waitFor):
			t.Fatal("subscription not closed after context cancel")
		}
	})

	t.Run("WatchDecodes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		typed := NewTyped[profile](s, profileCodec{})

		stream, err := typed.Watch(ctx, Where(Users, "id", "u1"))
		require.NoError(t, err)
		defer stream.Close()

		select {
		case got := <-stream.Snapshots():
			assert.Empty(t, got)
		case <-time.After(waitFor):
			t.Fatal("no initial snapshot")
		}

		_, err = typed.Put(ctx, Users, "u1", profile{ID: "u1", Name: "Ada", Score: 1})
		require.NoError(t, err)

		select {
		case got := <-stream.Snapshots():
			require.Len(t, got, 1)
			assert.Equal(t, "Ada", got[0].Name)
		case <-time.After(waitFor):
			t.Fatal("no snapshot after write")
		}
	})
}

func nextSnapshot(t *testing.T, sub *Subscription) []Document {
	t.Helper()
	select {
	case docs, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return docs
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

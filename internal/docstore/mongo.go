package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore maps each collection to a MongoDB collection keyed by _id.
// Subscriptions and DeleteMany need a replica set (change streams and
// transactions).
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(10)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (m *MongoStore) coll(c Collection) *mongo.Collection {
	return m.db.Collection(string(c))
}

// GetOnce implements Store.
func (m *MongoStore) GetOnce(ctx context.Context, c Collection, id string) (Document, error) {
	if err := validateID("get", c, id); err != nil {
		return nil, err
	}

	raw, err := m.coll(c).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("get", c, id)
	}
	if err != nil {
		return nil, wrap("get", c, id, KindTransient, err)
	}

	doc, err := fromBSON(raw)
	if err != nil {
		return nil, decodeError("get", c, id, err)
	}
	return doc, nil
}

// QueryOnce implements Store.
func (m *MongoStore) QueryOnce(ctx context.Context, q Query) ([]Document, error) {
	if err := validate("query", q.Collection); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, decodeError("query", q.Collection, "", err)
	}

	filter := bson.M{}
	for _, f := range filters {
		filter[f.Field] = f.Value
	}

	cur, err := m.coll(q.Collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	defer cur.Close(ctx)

	out := make([]Document, 0)
	for cur.Next(ctx) {
		doc, err := fromBSON(cur.Current)
		if err != nil {
			id, _ := cur.Current.Lookup("_id").StringValueOK()
			return nil, decodeError("query", q.Collection, id, err)
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, wrap("query", q.Collection, "", KindTransient, err)
	}
	return out, nil
}

// CheckExists implements Store.
func (m *MongoStore) CheckExists(ctx context.Context, q Query) (Document, bool, error) {
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
func (m *MongoStore) Upsert(ctx context.Context, c Collection, id string, doc Document) (string, error) {
	if err := validate("upsert", c); err != nil {
		return "", err
	}
	if id == "" {
		id = ulid.Make().String()
	}

	body, err := toBSON(id, doc)
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}

	_, err = m.coll(c).ReplaceOne(ctx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return "", wrap("upsert", c, id, KindWrite, err)
	}
	return id, nil
}

// CreateIfAbsent implements Store with an insert that treats a duplicate
// key as "already exists".
func (m *MongoStore) CreateIfAbsent(ctx context.Context, c Collection, id string, doc Document) (bool, error) {
	if err := validateID("create", c, id); err != nil {
		return false, err
	}

	body, err := toBSON(id, doc)
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}

	_, err = m.coll(c).InsertOne(ctx, body)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap("create", c, id, KindWrite, err)
	}
	return true, nil
}

// UpdateField implements Store.
func (m *MongoStore) UpdateField(ctx context.Context, c Collection, id, field string, value any) error {
	if err := validateID("update", c, id); err != nil {
		return err
	}
	plain, err := ToPlain(value)
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}

	res, err := m.coll(c).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: plain}})
	if err != nil {
		return wrap("update", c, id, KindWrite, err)
	}
	if res.MatchedCount == 0 {
		return notFound("update", c, id)
	}
	return nil
}

// DeleteOne implements Store.
func (m *MongoStore) DeleteOne(ctx context.Context, c Collection, id string) error {
	if err := validateID("delete", c, id); err != nil {
		return err
	}
	_, err := m.coll(c).DeleteOne(ctx, bson.M{"_id": id})
	return wrap("delete", c, id, KindWrite, err)
}

// DeleteMany implements Store inside a transaction.
func (m *MongoStore) DeleteMany(ctx context.Context, c Collection, ids []string) error {
	if err := validate("delete", c); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return wrap("delete", c, "", KindTransient, err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return m.coll(c).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	})
	return wrap("delete", c, "", KindWrite, err)
}

// Subscribe implements Store with one change stream per call.
func (m *MongoStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validate("subscribe", q.Collection); err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	stream, err := m.coll(q.Collection).Watch(pumpCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, wrap("subscribe", q.Collection, "", KindTransient, err)
	}

	sub := newSubscription(q, func() {
		cancel()
	})
	sub.closeOnCancel(ctx)

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		defer stream.Close(context.Background())
		for stream.Next(pumpCtx) {
			signal(notify)
		}
	}()

	go pump(pumpCtx, sub, notify, func(ctx context.Context) ([]Document, error) {
		return m.QueryOnce(ctx, q)
	})

	return sub, nil
}

// Ping implements Store.
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close implements Store.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// toBSON builds the stored form: the normalized document plus _id.
func toBSON(id string, doc Document) (bson.M, error) {
	norm, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	body := bson.M(norm)
	body["_id"] = id
	return body, nil
}

// fromBSON strips _id and converts through relaxed extended JSON so nested
// documents come back as plain maps.
func fromBSON(raw bson.Raw) (Document, error) {
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	doc, err := decodeJSON(b)
	if err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig содержит настройки подключения к MongoDB
type MongoConfig struct {
	URI        string // например mongodb://localhost:27017/?replicaSet=rs0
	Database   string
	Collection string
}

// DefaultMongoConfig возвращает конфигурацию по умолчанию
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "voxel",
		Collection: "world_kv",
	}
}

// kvDoc - документ коллекции: ключ хранится в _id
type kvDoc struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoKV хранит данные мира в коллекции MongoDB. Пакеты записываются
// в транзакции, поэтому сервер должен быть набором реплик.
type MongoKV struct {
	client     *mongo.Client
	collection *mongo.Collection
	closed     atomic.Bool
}

// OpenMongo подключается к MongoDB и проверяет соединение
func OpenMongo(ctx context.Context, cfg *MongoConfig) (*MongoKV, error) {
	def := DefaultMongoConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.URI == "" {
		c.URI = def.URI
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.Collection == "" {
		c.Collection = def.Collection
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logging.For(logging.ComponentStorage).Info("🍃 Connected to MongoDB %s/%s", c.Database, c.Collection)
	return &MongoKV{
		client:     client,
		collection: client.Database(c.Database).Collection(c.Collection),
	}, nil
}

func (m *MongoKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrClosed
	}
	var doc kvDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if doc.Value == nil {
		doc.Value = []byte{}
	}
	return doc.Value, true, nil
}

func (m *MongoKV) Has(ctx context.Context, key string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Write выполняет пакет одним BulkWrite внутри транзакции
func (m *MongoKV) Write(ctx context.Context, batch []Mutation) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(batch))
	for _, mu := range batch {
		filter := bson.M{"_id": mu.Key}
		if mu.IsDelete() {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(filter))
			continue
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(filter).
			SetReplacement(kvDoc{Key: mu.Key, Value: mu.Value}).
			SetUpsert(true))
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return m.collection.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return fmt.Errorf("failed to write batch of %d: %w", len(batch), err)
	}
	return nil
}

// Keys перебирает _id по регулярному выражению с якорем, что использует индекс
func (m *MongoKV) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.closed.Load() {
			yield("", ErrClosed)
			return
		}
		filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
		cur, err := m.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
		if err != nil {
			yield("", fmt.Errorf("failed to list keys: %w", err))
			return
		}
		defer cur.Close(context.Background())
		for cur.Next(ctx) {
			var doc kvDoc
			if err := cur.Decode(&doc); err != nil {
				yield("", fmt.Errorf("failed to decode key: %w", err))
				return
			}
			if !yield(doc.Key, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield("", fmt.Errorf("failed to list keys: %w", err))
		}
	}
}

func (m *MongoKV) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// drop удаляет коллекцию; нужен тестам
func (m *MongoKV) drop(ctx context.Context) error {
	return m.collection.Drop(ctx)
}

// Package mongodb implements the grantstore engine on MongoDB. Records are
// stored with their id as _id; expiry relies on a TTL index on expiresAt.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
)

const keyField = "_id"

// Adapter provides MongoDB connectivity and serves grantstore collections.
type Adapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	MaxConns         uint64
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func (cfg *Config) applyDefaults() error {
	if cfg.URL == "" {
		return fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("mongodb database is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	return nil
}

// Cosa fa: apre il client MongoDB e verifica connettività via ping.
// Cosa NON fa: non crea indici; li crea EnsureIndexes per ogni collection registrata.
// Esempio minimo: adapter, err := mongodb.NewAdapter(ctx, cfg, log)
func NewAdapter(ctx context.Context, cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URL)
	if cfg.MaxConns > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxConns)
	}
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

// Dialer returns a grantstore.Dialer opening a MongoDB adapter.
func Dialer(cfg Config, log logger.Logger) grantstore.Dialer {
	return func(ctx context.Context) (grantstore.Engine, error) {
		return NewAdapter(ctx, cfg, log)
	}
}

func (a *Adapter) Client() *mongo.Client {
	return a.client
}

func (a *Adapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

// Collection returns the grantstore view of a MongoDB collection.
func (a *Adapter) Collection(name string) grantstore.Collection {
	return &collection{adapter: a, coll: a.Database().Collection(name)}
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("mongodb adapter is closed")
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

type collection struct {
	adapter *Adapter
	coll    *mongo.Collection
}

func byID(id string) bson.D {
	return bson.D{{Key: keyField, Value: id}}
}

func (c *collection) Find(ctx context.Context, id string) (grantstore.Document, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	cursor, err := c.coll.Find(opCtx, byID(id), options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(opCtx)

	if !cursor.Next(opCtx) {
		return nil, cursor.Err()
	}
	var raw bson.M
	if err := cursor.Decode(&raw); err != nil {
		return nil, err
	}
	return fromBSON(raw), nil
}

func (c *collection) FindOneAndDelete(ctx context.Context, id string) (grantstore.Document, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	var raw bson.M
	err := c.coll.FindOneAndDelete(opCtx, byID(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(raw), nil
}

func (c *collection) MarkConsumed(ctx context.Context, id string) (bool, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	update := bson.D{{Key: "$currentDate", Value: bson.D{{Key: grantstore.FieldConsumed, Value: true}}}}
	opts := options.FindOneAndUpdate().SetProjection(bson.D{{Key: keyField, Value: 1}})
	err := c.coll.FindOneAndUpdate(opCtx, byID(id), update, opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc grantstore.Document) error {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	_, err := c.coll.ReplaceOne(opCtx, byID(id), toBSON(doc), options.Replace().SetUpsert(true))
	return err
}

func (c *collection) DeleteByGrant(ctx context.Context, grantID string) (int64, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	res, err := c.coll.DeleteMany(opCtx, bson.D{{Key: grantstore.FieldGrantID, Value: grantID}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// EnsureIndexes creates the grantId lookup index and the expiresAt TTL
// index. MongoDB treats re-creation of an identical index as a no-op.
func (c *collection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateMany(ctx, indexModels())
	return err
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: grantstore.FieldGrantID, Value: 1}},
		},
		{
			Keys:    bson.D{{Key: grantstore.FieldExpiresAt, Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
}

// toBSON builds the stored body. The key lives in _id, set from the filter
// on upsert, so both id spellings are dropped from the body.
func toBSON(doc grantstore.Document) bson.M {
	out := make(bson.M, len(doc))
	for key, value := range doc {
		if key == grantstore.FieldID || key == keyField {
			continue
		}
		out[key] = value
	}
	return out
}

func fromBSON(raw bson.M) grantstore.Document {
	doc := make(grantstore.Document, len(raw))
	for key, value := range raw {
		if key == keyField {
			doc[grantstore.FieldID] = idString(value)
			continue
		}
		doc[key] = normalize(value)
	}
	return doc
}

func idString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	default:
		return fmt.Sprint(v)
	}
}

func normalize(value any) any {
	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time().UTC()
	case time.Time:
		return v.UTC()
	case bson.M:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			out[key] = normalize(nested)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, elem := range v {
			out[elem.Key] = normalize(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = normalize(nested)
		}
		return out
	default:
		return v
	}
}

package grantstore

import "context"

// Engine is a live connection to a document store.
type Engine interface {
	// Collection returns a handle to the named collection. It never fails;
	// errors surface on the handle's operations.
	Collection(name string) Collection
	HealthCheck(ctx context.Context) error
	Close() error
}

// Collection is the per-collection contract an engine must satisfy.
// Documents are keyed by id; the engine returns it under FieldID.
type Collection interface {
	// Find returns the first document with the id, or nil when absent.
	Find(ctx context.Context, id string) (Document, error)
	// FindOneAndDelete atomically removes the document and returns it, or nil when absent.
	FindOneAndDelete(ctx context.Context, id string) (Document, error)
	// MarkConsumed atomically stamps FieldConsumed with the engine's current
	// time. It reports false when no document has the id.
	MarkConsumed(ctx context.Context, id string) (bool, error)
	// Replace overwrites the whole document stored under id, inserting it when absent.
	Replace(ctx context.Context, id string, doc Document) error
	// DeleteByGrant removes every document whose FieldGrantID equals grantID.
	DeleteByGrant(ctx context.Context, grantID string) (int64, error)
	// EnsureIndexes provisions the grantId lookup index and the zero-grace
	// expiresAt TTL index. It must be safe to call more than once.
	EnsureIndexes(ctx context.Context) error
}

// Dialer establishes an engine connection.
type Dialer func(ctx context.Context) (Engine, error)

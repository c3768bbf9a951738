package grantstore

import (
	"context"
	"sync"
)

// stubEngine counts index provisioning and serves empty collections.
type stubEngine struct {
	mu        sync.Mutex
	ensured   map[string]int
	ensureErr error
	healthErr error
}

func newStubEngine() *stubEngine {
	return &stubEngine{ensured: make(map[string]int)}
}

func (e *stubEngine) Collection(name string) Collection {
	return &stubCollection{engine: e, name: name}
}

func (e *stubEngine) HealthCheck(context.Context) error { return e.healthErr }
func (e *stubEngine) Close() error                      { return nil }

func (e *stubEngine) ensureCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensured[name]
}

type stubCollection struct {
	engine *stubEngine
	name   string
}

func (c *stubCollection) Find(context.Context, string) (Document, error)             { return nil, nil }
func (c *stubCollection) FindOneAndDelete(context.Context, string) (Document, error) { return nil, nil }
func (c *stubCollection) MarkConsumed(context.Context, string) (bool, error)         { return false, nil }
func (c *stubCollection) Replace(context.Context, string, Document) error            { return nil }
func (c *stubCollection) DeleteByGrant(context.Context, string) (int64, error)       { return 0, nil }

func (c *stubCollection) EnsureIndexes(context.Context) error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	c.engine.ensured[c.name]++
	return c.engine.ensureErr
}

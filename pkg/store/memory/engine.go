// Package memory provides an in-process grantstore engine for tests and
// local development. Expired documents are dropped lazily on access and,
// optionally, by a background sweeper.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("memory engine is closed")

// Config holds memory engine configuration.
type Config struct {
	// SweepInterval enables a background sweep of expired documents.
	// Zero disables it.
	SweepInterval time.Duration
	// Now overrides the engine clock.
	Now func() time.Time
}

// Engine stores documents in maps guarded by a single mutex.
type Engine struct {
	log logger.Logger
	now func() time.Time

	mu          sync.Mutex
	collections map[string]map[string]grantstore.Document
	indexCalls  map[string]int
	closed      bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an empty engine and starts the sweeper when configured.
func New(cfg Config, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		log:         log,
		now:         now,
		collections: make(map[string]map[string]grantstore.Document),
		indexCalls:  make(map[string]int),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go e.sweepLoop(cfg.SweepInterval)
	} else {
		close(e.done)
	}
	return e
}

// Dialer returns a grantstore.Dialer producing a fresh engine.
func Dialer(cfg Config, log logger.Logger) grantstore.Dialer {
	return func(ctx context.Context) (grantstore.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(cfg, log), nil
	}
}

func (e *Engine) Collection(name string) grantstore.Collection {
	return &collection{engine: e, name: name}
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the sweeper. Stored documents are kept so tests can inspect them.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
	return nil
}

// IndexCalls reports how many times EnsureIndexes ran for a collection.
func (e *Engine) IndexCalls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexCalls[name]
}

// Len reports the number of live documents in a collection.
func (e *Engine) Len(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs := e.collections[name]
	now := e.now()
	n := 0
	for _, doc := range docs {
		if !doc.Expired(now) {
			n++
		}
	}
	return n
}

// Sweep removes every expired document and returns how many were dropped.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	removed := 0
	for _, docs := range e.collections {
		for id, doc := range docs {
			if doc.Expired(now) {
				delete(docs, id)
				removed++
			}
		}
	}
	return removed
}

func (e *Engine) sweepLoop(interval time.Duration) {
	defer close(e.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if removed := e.Sweep(); removed > 0 {
				e.log.Debug("expired documents swept", "removed", removed)
			}
		}
	}
}

// lookup returns the live document under id. Callers hold e.mu.
func (e *Engine) lookup(name, id string) (grantstore.Document, bool) {
	docs := e.collections[name]
	doc, ok := docs[id]
	if !ok {
		return nil, false
	}
	if doc.Expired(e.now()) {
		delete(docs, id)
		return nil, false
	}
	return doc, true
}

type collection struct {
	engine *Engine
	name   string
}

func (c *collection) Find(ctx context.Context, id string) (grantstore.Document, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.engine.mu.Unlock()
	doc, ok := c.engine.lookup(c.name, id)
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (c *collection) FindOneAndDelete(ctx context.Context, id string) (grantstore.Document, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.engine.mu.Unlock()
	doc, ok := c.engine.lookup(c.name, id)
	if !ok {
		return nil, nil
	}
	delete(c.engine.collections[c.name], id)
	return doc, nil
}

func (c *collection) MarkConsumed(ctx context.Context, id string) (bool, error) {
	if err := c.begin(ctx); err != nil {
		return false, err
	}
	defer c.engine.mu.Unlock()
	doc, ok := c.engine.lookup(c.name, id)
	if !ok {
		return false, nil
	}
	doc[grantstore.FieldConsumed] = c.engine.now().UTC()
	return true, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc grantstore.Document) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.engine.mu.Unlock()
	stored := doc.Clone()
	stored[grantstore.FieldID] = id
	if expiresAt, ok := stored.ExpiresAt(); ok {
		stored[grantstore.FieldExpiresAt] = expiresAt.UTC()
	}
	docs, ok := c.engine.collections[c.name]
	if !ok {
		docs = make(map[string]grantstore.Document)
		c.engine.collections[c.name] = docs
	}
	docs[id] = stored
	return nil
}

func (c *collection) DeleteByGrant(ctx context.Context, grantID string) (int64, error) {
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	defer c.engine.mu.Unlock()
	var deleted int64
	for id, doc := range c.engine.collections[c.name] {
		if doc.GrantID() == grantID {
			delete(c.engine.collections[c.name], id)
			deleted++
		}
	}
	return deleted, nil
}

func (c *collection) EnsureIndexes(ctx context.Context) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.engine.mu.Unlock()
	c.engine.indexCalls[c.name]++
	return nil
}

// begin checks ctx and the closed flag and, on success, returns with the
// engine lock held.
func (c *collection) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.engine.mu.Lock()
	if c.engine.closed {
		c.engine.mu.Unlock()
		return ErrClosed
	}
	return nil
}

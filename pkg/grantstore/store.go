package grantstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/observability/metrics"
	"github.com/nimburion/grantstore/pkg/observability/tracing"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	log                logger.Logger
	indexTimeout       time.Duration
	cascadeConcurrency int
	provisionHook      ProvisionHook
	now                func() time.Time
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithIndexTimeout bounds each index provisioning run.
func WithIndexTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.indexTimeout = timeout
	}
}

// WithCascadeConcurrency caps the collections swept in parallel by a grant
// cascade. Zero or negative means no cap.
func WithCascadeConcurrency(n int) Option {
	return func(o *options) {
		o.cascadeConcurrency = n
	}
}

// WithProvisionHook observes index provisioning outcomes.
func WithProvisionHook(hook ProvisionHook) Option {
	return func(o *options) {
		o.provisionHook = hook
	}
}

// WithClock overrides the clock used to compute expiresAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Store is the storage handle shared by every Adapter: the connection gate,
// the collection registry and the cascade policy.
type Store struct {
	gate               *Gate
	registry           *Registry
	log                logger.Logger
	cascadeConcurrency int
	now                func() time.Time
}

// New creates a Store on top of gate.
func New(gate *Gate, opts ...Option) *Store {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	return &Store{
		gate:               gate,
		registry:           NewRegistry(gate, o.log, o.indexTimeout, o.provisionHook),
		log:                o.log,
		cascadeConcurrency: o.cascadeConcurrency,
		now:                o.now,
	}
}

func (s *Store) Gate() *Gate {
	return s.gate
}

func (s *Store) Registry() *Registry {
	return s.registry
}

// Model returns the Adapter for an entity type, registering its collection.
func (s *Store) Model(entityType string) *Adapter {
	return NewAdapter(s, entityType)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.gate.HealthCheck(ctx)
}

// RevokeGrant deletes every document carrying grantID from every registered
// collection. Collections are swept concurrently and all of them are waited
// for; failures are collected into a *CascadeError.
func (s *Store) RevokeGrant(ctx context.Context, grantID string) error {
	engine, err := s.gate.Engine()
	if err != nil {
		return err
	}

	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationCascade, tracing.WithGrantID(grantID))
	defer span.End()
	log := s.log.WithContext(logger.ContextWithGrantID(ctx, grantID))

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []CollectionFailure
	)
	if s.cascadeConcurrency > 0 {
		g.SetLimit(s.cascadeConcurrency)
	}

	s.registry.ForEach(func(name string) {
		g.Go(func() error {
			deleted, err := engine.Collection(name).DeleteByGrant(ctx, grantID)
			if err != nil {
				mu.Lock()
				failures = append(failures, CollectionFailure{Collection: name, Err: err})
				mu.Unlock()
				return err
			}
			metrics.AddCascadeDeleted(name, deleted)
			if deleted > 0 {
				log.Debug("grant cascade removed documents", "collection", name, "deleted", deleted)
			}
			return nil
		})
	})

	if err := g.Wait(); err == nil {
		tracing.RecordSuccess(span)
		return nil
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Collection < failures[j].Collection })
	cascadeErr := &CascadeError{GrantID: grantID, Failures: failures}
	tracing.RecordError(span, cascadeErr)
	log.Warn("grant cascade delete failed", "collections", cascadeErr.FailedCollections(), "error", cascadeErr)
	return cascadeErr
}

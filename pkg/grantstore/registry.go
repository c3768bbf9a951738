package grantstore

import (
	"context"
	"sync"
	"time"

	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/observability/metrics"
	"github.com/nimburion/grantstore/pkg/observability/tracing"
)

// DefaultIndexTimeout bounds one index provisioning run.
const DefaultIndexTimeout = 30 * time.Second

// CollectionSet is an insertion-ordered set of collection names safe for
// concurrent use.
type CollectionSet struct {
	mu      sync.Mutex
	order   []string
	members map[string]struct{}
}

func NewCollectionSet() *CollectionSet {
	return &CollectionSet{members: make(map[string]struct{})}
}

// Add inserts name and reports whether it was not present before.
func (s *CollectionSet) Add(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[name]; ok {
		return false
	}
	s.members[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *CollectionSet) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[name]
	return ok
}

// Names returns a snapshot in insertion order.
func (s *CollectionSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *CollectionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// ProvisionHook observes the outcome of each index provisioning run.
type ProvisionHook func(collection string, err error)

// Registry tracks the collections used in this process and provisions
// their indexes once per name.
type Registry struct {
	set     *CollectionSet
	gate    *Gate
	log     logger.Logger
	timeout time.Duration
	hook    ProvisionHook
}

// NewRegistry creates a registry provisioning through gate. A zero timeout
// uses DefaultIndexTimeout; hook may be nil.
func NewRegistry(gate *Gate, log logger.Logger, timeout time.Duration, hook ProvisionHook) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}
	return &Registry{
		set:     NewCollectionSet(),
		gate:    gate,
		log:     log,
		timeout: timeout,
		hook:    hook,
	}
}

// RegisterIfNew records name. Only the call that inserts it schedules index
// provisioning, which runs in the background as soon as the gate is ready.
// Provisioning errors are reported, never returned.
func (r *Registry) RegisterIfNew(name string) bool {
	if !r.set.Add(name) {
		return false
	}
	r.gate.OnceReady(func() {
		go r.provision(name)
	})
	return true
}

func (r *Registry) provision(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationEnsureIndexes, tracing.WithCollection(name))
	defer span.End()

	err := r.ensureIndexes(ctx, name)
	metrics.RecordIndexProvisioning(name, err)
	if err != nil {
		tracing.RecordError(span, err)
		r.log.Warn("index provisioning failed", "collection", name, "error", err)
	} else {
		r.log.Debug("indexes ensured", "collection", name)
	}
	if r.hook != nil {
		r.hook(name, err)
	}
}

func (r *Registry) ensureIndexes(ctx context.Context, name string) error {
	coll, err := r.gate.Resolve(name)
	if err != nil {
		return err
	}
	return engineError("ensure indexes", name, coll.EnsureIndexes(ctx))
}

// ForEach calls fn for every registered name in insertion order.
func (r *Registry) ForEach(fn func(name string)) {
	for _, name := range r.set.Names() {
		fn(name)
	}
}

func (r *Registry) Names() []string {
	return r.set.Names()
}

func (r *Registry) Has(name string) bool {
	return r.set.Has(name)
}

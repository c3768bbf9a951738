package grantstore

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/observability/metrics"
	"github.com/nimburion/grantstore/pkg/observability/tracing"
)

// State is the connection state of a Gate. The only transition is
// StateConnecting to StateReady.
type State int

const (
	StateConnecting State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "connecting"
}

// RetryPolicy bounds connection attempts. MaxAttempts <= 1 means a single
// attempt: a failed connection is reported and readiness never fires.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRetry sets the connection retry policy.
func WithRetry(policy RetryPolicy) GateOption {
	return func(g *Gate) {
		g.retry = policy
	}
}

// WithFailureHandler receives the terminal connection error. The gate logs
// the failure either way.
func WithFailureHandler(fn func(error)) GateOption {
	return func(g *Gate) {
		g.onFailure = fn
	}
}

type readyListener struct {
	fn   func()
	once bool
}

// Gate establishes one shared engine connection asynchronously and lets
// dependents observe readiness without polling.
type Gate struct {
	log       logger.Logger
	retry     RetryPolicy
	onFailure func(error)

	mu        sync.Mutex
	started   bool
	state     State
	engine    Engine
	ready     chan struct{}
	listeners []readyListener
}

// NewGate creates a gate in the connecting state.
func NewGate(log logger.Logger, opts ...GateOption) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	g := &Gate{
		log:   log,
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewReadyGate wraps an engine that is already connected.
func NewReadyGate(engine Engine, log logger.Logger) *Gate {
	g := NewGate(log)
	g.started = true
	g.markReady(engine)
	return g
}

// Cosa fa: avvia la connessione in background e ritorna subito.
// Cosa NON fa: non ritenta oltre la RetryPolicy e non chiude mai l'engine.
// Esempio minimo: err := gate.Connect(ctx, mongodb.Dialer(cfg, log))
func (g *Gate) Connect(ctx context.Context, dial Dialer) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return ErrAlreadyConnecting
	}
	g.started = true
	g.mu.Unlock()

	go g.establish(ctx, dial)
	return nil
}

func (g *Gate) establish(ctx context.Context, dial Dialer) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationConnect)
	defer span.End()

	engine, err := g.dial(ctx, dial)
	if err != nil {
		tracing.RecordError(span, err)
		g.log.Error("storage connection failed", "error", err)
		if g.onFailure != nil {
			g.onFailure(err)
		}
		return
	}
	tracing.RecordSuccess(span)
	g.markReady(engine)
}

func (g *Gate) dial(ctx context.Context, dial Dialer) (Engine, error) {
	if g.retry.MaxAttempts <= 1 {
		return dial(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	if g.retry.InitialInterval > 0 {
		policy.InitialInterval = g.retry.InitialInterval
	}
	if g.retry.MaxInterval > 0 {
		policy.MaxInterval = g.retry.MaxInterval
	}
	policy.MaxElapsedTime = 0

	var (
		engine  Engine
		attempt int
	)
	operation := func() error {
		attempt++
		connected, err := dial(ctx)
		if err != nil {
			return err
		}
		engine = connected
		return nil
	}
	notify := func(err error, next time.Duration) {
		g.log.Warn("storage connection attempt failed",
			"attempt", attempt,
			"max_attempts", g.retry.MaxAttempts,
			"retry_in", next,
			"error", err,
		)
	}

	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(g.retry.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, bounded, notify); err != nil {
		return nil, err
	}
	return engine, nil
}

func (g *Gate) markReady(engine Engine) {
	g.mu.Lock()
	g.engine = engine
	g.state = StateReady
	close(g.ready)
	fire := make([]func(), 0, len(g.listeners))
	kept := g.listeners[:0]
	for _, listener := range g.listeners {
		fire = append(fire, listener.fn)
		if !listener.once {
			kept = append(kept, listener)
		}
	}
	g.listeners = kept
	g.mu.Unlock()

	metrics.SetReady(true)
	g.log.Info("storage connection established")

	for _, fn := range fire {
		fn()
	}
}

// OnReady registers a durable readiness listener. Registered after
// readiness, it fires immediately.
func (g *Gate) OnReady(fn func()) {
	g.subscribe(fn, false)
}

// OnceReady registers a one-shot readiness listener. It fires immediately
// when the gate is already ready.
func (g *Gate) OnceReady(fn func()) {
	g.subscribe(fn, true)
}

func (g *Gate) subscribe(fn func(), once bool) {
	g.mu.Lock()
	if g.state == StateReady {
		if !once {
			g.listeners = append(g.listeners, readyListener{fn: fn})
		}
		g.mu.Unlock()
		fn()
		return
	}
	g.listeners = append(g.listeners, readyListener{fn: fn, once: once})
	g.mu.Unlock()
}

// Ready is closed once the connection is established.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// WaitReady blocks until readiness or until ctx is done.
func (g *Gate) WaitReady(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) IsReady() bool {
	return g.State() == StateReady
}

// Engine returns the live engine or ErrNotReady. It never blocks.
func (g *Gate) Engine() (Engine, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateReady {
		return nil, ErrNotReady
	}
	return g.engine, nil
}

// Resolve returns the named collection of the live engine or ErrNotReady.
func (g *Gate) Resolve(name string) (Collection, error) {
	engine, err := g.Engine()
	if err != nil {
		return nil, err
	}
	return engine.Collection(name), nil
}

// HealthCheck reports ErrNotReady before readiness, then delegates to the engine.
func (g *Gate) HealthCheck(ctx context.Context) error {
	engine, err := g.Engine()
	if err != nil {
		return err
	}
	return engine.HealthCheck(ctx)
}

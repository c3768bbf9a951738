package health

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/grantstore/pkg/grantstore"
)

// DefaultCheckTimeout bounds a single check when no timeout is given.
const DefaultCheckTimeout = 5 * time.Second

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker creates a health checker for any component that implements Checkable
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	return result(c.name, start, err, nil)
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// StoreChecker reports the connection state of a grant store. Before the
// gate is ready the store is unhealthy with message "connecting"; afterwards
// the engine health check decides.
type StoreChecker struct {
	name    string
	store   *grantstore.Store
	timeout time.Duration
}

// NewStoreChecker creates a readiness checker for st.
func NewStoreChecker(name string, st *grantstore.Store, timeout time.Duration) *StoreChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &StoreChecker{name: name, store: st, timeout: timeout}
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	gate := c.store.Gate()
	metadata := map[string]any{
		"state":       gate.State().String(),
		"collections": c.store.Registry().Names(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.store.HealthCheck(checkCtx)
	res := result(c.name, start, err, metadata)
	if errors.Is(err, grantstore.ErrNotReady) {
		res.Message = "connecting"
	}
	return res
}

func (c *StoreChecker) Name() string {
	return c.name
}

func result(name string, start time.Time, err error, metadata map[string]any) CheckResult {
	res := CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata:  metadata,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = ""
		res.Error = err.Error()
	}
	return res
}

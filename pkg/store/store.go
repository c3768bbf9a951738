package store

import (
	"context"
	"errors"

	"github.com/nimburion/grantstore/pkg/grantstore"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
// Every grantstore.Engine satisfies it.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

var _ Adapter = grantstore.Engine(nil)

// Close releases the engine behind st. Before readiness there is nothing to
// release and Close returns nil.
func Close(st *grantstore.Store) error {
	engine, err := st.Gate().Engine()
	if errors.Is(err, grantstore.ErrNotReady) {
		return nil
	}
	if err != nil {
		return err
	}
	return engine.Close()
}

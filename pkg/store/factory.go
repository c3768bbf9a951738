package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/grantstore/pkg/config"
	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/store/dynamodb"
	"github.com/nimburion/grantstore/pkg/store/memory"
	"github.com/nimburion/grantstore/pkg/store/mongodb"
	"github.com/nimburion/grantstore/pkg/store/redis"
)

// Cosa fa: seleziona il dialer dell'engine in base alla config.
// Cosa NON fa: non apre connessioni; il dial avviene nel Gate.
// Esempio minimo: dial, err := store.NewDialer(cfg.Store, log)
func NewDialer(cfg config.StoreConfig, log logger.Logger) (grantstore.Dialer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.StoreTypeMemory:
		return memory.Dialer(memory.Config{
			SweepInterval: cfg.Memory.SweepInterval,
		}, log), nil
	case config.StoreTypeMongoDB:
		maxConns := uint64(0)
		if cfg.MaxConns > 0 {
			maxConns = uint64(cfg.MaxConns)
		}
		return mongodb.Dialer(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			MaxConns:         maxConns,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log), nil
	case config.StoreTypeRedis:
		return redis.Dialer(redis.Config{
			URL:              cfg.URL,
			KeyPrefix:        cfg.KeyPrefix,
			MaxConns:         cfg.MaxConns,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log), nil
	case config.StoreTypeDynamoDB:
		return dynamodb.Dialer(dynamodb.Config{
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			TablePrefix:      cfg.KeyPrefix,
			OperationTimeout: cfg.OperationTimeout,
			TableWaitTimeout: cfg.IndexTimeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported store.type %q (supported: memory, mongodb, redis, dynamodb)", cfg.Type)
	}
}

// GateOptions maps the connect retry settings onto gate options.
func GateOptions(cfg config.StoreConfig) []grantstore.GateOption {
	if cfg.ConnectRetry.MaxAttempts <= 1 {
		return nil
	}
	return []grantstore.GateOption{
		grantstore.WithRetry(grantstore.RetryPolicy{
			MaxAttempts:     cfg.ConnectRetry.MaxAttempts,
			InitialInterval: cfg.ConnectRetry.InitialInterval,
			MaxInterval:     cfg.ConnectRetry.MaxInterval,
		}),
	}
}

// StoreOptions maps the store settings onto grantstore options.
func StoreOptions(cfg config.StoreConfig, log logger.Logger) []grantstore.Option {
	return []grantstore.Option{
		grantstore.WithLogger(log),
		grantstore.WithIndexTimeout(cfg.IndexTimeout),
		grantstore.WithCascadeConcurrency(cfg.CascadeConcurrency),
	}
}

// Cosa fa: costruisce Gate e Store dalla config e avvia la connessione in background.
// Cosa NON fa: non attende la readiness; usare st.Gate().WaitReady(ctx).
// Esempio minimo: st, err := store.Open(ctx, cfg.Store, log, nil)
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger, gateOpts []grantstore.GateOption, opts ...grantstore.Option) (*grantstore.Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	dial, err := NewDialer(cfg, log)
	if err != nil {
		return nil, err
	}
	return OpenWithDialer(ctx, dial, cfg, log, gateOpts, opts...)
}

// OpenWithDialer is Open with a caller supplied dialer. gateOpts are applied
// after the ones derived from cfg.
func OpenWithDialer(ctx context.Context, dial grantstore.Dialer, cfg config.StoreConfig, log logger.Logger, gateOpts []grantstore.GateOption, opts ...grantstore.Option) (*grantstore.Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	gate := grantstore.NewGate(log.With("store", cfg.Type), append(GateOptions(cfg), gateOpts...)...)
	st := grantstore.New(gate, append(StoreOptions(cfg, log), opts...)...)
	if err := gate.Connect(ctx, dial); err != nil {
		return nil, err
	}
	return st, nil
}

// OpenReady opens a store with dial and blocks until the gate is ready, the
// connection fails, or timeout elapses. A timeout error wraps
// grantstore.ErrNotReady. When OpenReady gives up, an engine that connects
// later is closed.
func OpenReady(ctx context.Context, dial grantstore.Dialer, cfg config.StoreConfig, log logger.Logger, timeout time.Duration, opts ...grantstore.Option) (*grantstore.Store, error) {
	failed := make(chan error, 1)
	onFailure := grantstore.WithFailureHandler(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	st, err := OpenWithDialer(ctx, dial, cfg, log, []grantstore.GateOption{onFailure}, opts...)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-st.Gate().Ready():
		return st, nil
	case err := <-failed:
		closeWhenReady(st, log)
		return nil, fmt.Errorf("connect %s store: %w", cfg.Type, err)
	case <-waitCtx.Done():
		closeWhenReady(st, log)
		return nil, fmt.Errorf("connect %s store: %w: %w", cfg.Type, grantstore.ErrNotReady, waitCtx.Err())
	}
}

// closeWhenReady closes the engine of an abandoned store if its connection
// completes after the caller gave up on it.
func closeWhenReady(st *grantstore.Store, log logger.Logger) {
	st.Gate().OnceReady(func() {
		if err := Close(st); err != nil && log != nil {
			log.Warn("closing late store connection failed", "error", err)
		}
	})
}

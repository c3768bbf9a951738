package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/grantstore/pkg/config"
	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/health"
	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/observability/metrics"
	"github.com/nimburion/grantstore/pkg/observability/tracing"
	"github.com/nimburion/grantstore/pkg/server"
	"github.com/nimburion/grantstore/pkg/store"
	"github.com/nimburion/grantstore/pkg/version"
)

// DefaultModels are the entity types registered by serve.
var DefaultModels = grantstore.ProviderModels

// ServeOptions configures RunServe.
type ServeOptions struct {
	Name      string
	NewDialer DialerFactory
	Models    []string

	// Ready, when set, is called with the store once the connection is established.
	Ready func(st *grantstore.Store)
}

// RunServe connects the configured store, registers the models so their
// indexes get provisioned, and serves the management endpoints until ctx is
// cancelled or the connection fails. A failed connection is fatal.
func RunServe(ctx context.Context, cfg *config.Config, log logger.Logger, opts ServeOptions) error {
	if opts.NewDialer == nil {
		opts.NewDialer = store.NewDialer
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := version.Current(opts.Name)
	log.Info("starting grant store", info.Fields()...)

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	dial, err := opts.NewDialer(cfg.Store, log)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	st, err := store.OpenWithDialer(ctx, dial, cfg.Store, log,
		[]grantstore.GateOption{grantstore.WithFailureHandler(func(err error) {
			select {
			case failed <- err:
			default:
			}
		})},
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(st); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()

	for _, model := range opts.Models {
		st.Model(model)
	}
	st.Gate().OnceReady(func() {
		log.Info("store ready", "collections", st.Registry().Names())
		if opts.Ready != nil {
			opts.Ready(st)
		}
	})

	healthRegistry := newHealthRegistry(st, cfg.Store.OperationTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-failed:
			return fmt.Errorf("connect %s store: %w", cfg.Store.Type, err)
		case <-gctx.Done():
			return nil
		}
	})
	if cfg.Management.Enabled {
		mgmt := server.NewManagementServer(cfg.Management, log, healthRegistry, metrics.NewRegistry())
		g.Go(func() error {
			return mgmt.Start(gctx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("grant store stopped", "error", err)
		return err
	}
	log.Info("grant store stopped")
	return nil
}

// newHealthRegistry backs /readyz with the store state and a direct ping of
// the engine behind the gate.
func newHealthRegistry(st *grantstore.Store, timeout time.Duration) *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewStoreChecker("store", st, timeout))
	registry.Register(health.NewAdapterChecker("engine", st.Gate(), timeout))
	return registry
}

// CheckStore connects with the configured store, runs one health check and
// writes "ok" to out.
func CheckStore(ctx context.Context, cfg *config.Config, log logger.Logger, newDialer DialerFactory, timeout time.Duration, out io.Writer) error {
	if newDialer == nil {
		newDialer = store.NewDialer
	}
	dial, err := newDialer(cfg.Store, log)
	if err != nil {
		return err
	}
	st, err := store.OpenReady(ctx, dial, cfg.Store, log, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(st) }()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := st.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	fmt.Fprintf(out, "ok (%s)\n", cfg.Store.Type)
	return nil
}

// Package redis implements the grantstore engine on Redis.
//
// Each document is a hash at <prefix>:<collection>:doc:<id> holding the JSON
// body plus the expiresAt, consumed and grantId fields. Native key expiry
// plays the role of the TTL index; a set per grant at
// <prefix>:<collection>:grant:<grantId> plays the role of the grantId index.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
)

// DefaultKeyPrefix namespaces every key written by the adapter.
const DefaultKeyPrefix = "grantstore"

// RedisAdapter provides Redis connectivity with connection pooling and
// serves grantstore collections.
type RedisAdapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// Config holds Redis connection configuration
type Config struct {
	URL              string
	KeyPrefix        string
	MaxConns         int
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// NewAdapter creates a Redis adapter and verifies the connection with a ping.
func NewAdapter(ctx context.Context, cfg Config, log logger.Logger) (*RedisAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = cfg.ConnectTimeout
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"max_conns", cfg.MaxConns,
		"operation_timeout", cfg.OperationTimeout,
		"key_prefix", cfg.KeyPrefix,
	)

	return &RedisAdapter{
		client: client,
		logger: log,
		config: cfg,
	}, nil
}

// Dialer returns a grantstore.Dialer opening a Redis adapter.
func Dialer(cfg Config, log logger.Logger) grantstore.Dialer {
	return func(ctx context.Context) (grantstore.Engine, error) {
		return NewAdapter(ctx, cfg, log)
	}
}

// Client returns the underlying *redis.Client for direct access when needed
func (a *RedisAdapter) Client() *redis.Client {
	return a.client
}

// Ping verifies the Redis connection is alive
func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Collection returns the grantstore view of a key namespace.
func (a *RedisAdapter) Collection(name string) grantstore.Collection {
	return &collection{
		client: a.client,
		keys:   newKeyspace(a.config.KeyPrefix, name),
	}
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// Close gracefully closes the Redis connection
func (a *RedisAdapter) Close() error {
	a.logger.Info("closing Redis connection")

	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	a.logger.Info("Redis connection closed successfully")
	return nil
}

type keyspace struct {
	doc   string
	grant string
}

func newKeyspace(prefix, collection string) keyspace {
	base := strings.Join([]string{prefix, collection}, ":")
	return keyspace{
		doc:   base + ":doc:",
		grant: base + ":grant:",
	}
}

func (k keyspace) docKey(id string) string {
	return k.doc + id
}

func (k keyspace) grantKey(grantID string) string {
	return k.grant + grantID
}

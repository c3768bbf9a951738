// Package dynamodb implements the grantstore engine on DynamoDB: one table
// per collection keyed by id, a grantId global secondary index and native
// TTL on expiresAt (epoch seconds).
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
)

// API is the subset of the DynamoDB client used by the adapter.
type API interface {
	dynamodb.DescribeTableAPIClient
	dynamodb.QueryAPIClient
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DescribeTimeToLive(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Adapter provides DynamoDB connectivity.
type Adapter struct {
	client      API
	logger      logger.Logger
	timeout     time.Duration
	tablePrefix string
	tableWait   time.Duration
	now         func() time.Time
	mu          sync.RWMutex
	closed      bool
}

// Config holds DynamoDB adapter configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	TablePrefix      string
	OperationTimeout time.Duration
	// TableWaitTimeout bounds the wait for a table created by EnsureIndexes.
	TableWaitTimeout time.Duration
}

// Cosa fa: costruisce client DynamoDB (AWS SDK v2) con supporto endpoint custom.
// Cosa NON fa: non crea tabelle; le crea EnsureIndexes alla prima registrazione.
// Esempio minimo: adapter, err := dynamodb.NewAdapter(ctx, cfg, log)
func NewAdapter(ctx context.Context, cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := NewWithClient(dynamodb.NewFromConfig(awsCfg, opts...), cfg, log)

	pingCtx, cancel := context.WithTimeout(ctx, adapter.timeout)
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		return nil, err
	}

	adapter.logger.Info("DynamoDB adapter initialized", "region", cfg.Region, "endpoint", cfg.Endpoint, "table_prefix", cfg.TablePrefix)
	return adapter, nil
}

// NewWithClient wraps an existing client without checking connectivity.
func NewWithClient(client API, cfg Config, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.TableWaitTimeout <= 0 {
		cfg.TableWaitTimeout = 2 * time.Minute
	}
	return &Adapter{
		client:      client,
		logger:      log,
		timeout:     cfg.OperationTimeout,
		tablePrefix: cfg.TablePrefix,
		tableWait:   cfg.TableWaitTimeout,
		now:         time.Now,
	}
}

// Dialer returns a grantstore.Dialer opening a DynamoDB adapter.
func Dialer(cfg Config, log logger.Logger) grantstore.Dialer {
	return func(ctx context.Context) (grantstore.Engine, error) {
		return NewAdapter(ctx, cfg, log)
	}
}

func (a *Adapter) Client() API {
	return a.client
}

// TableName returns the table backing a collection.
func (a *Adapter) TableName(collection string) string {
	return a.tablePrefix + collection
}

func (a *Adapter) Collection(name string) grantstore.Collection {
	return &collection{adapter: a, table: a.TableName(name)}
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("dynamodb adapter is closed")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.ListTables(opCtx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isTableMissing(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

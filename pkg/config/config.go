package config

import "time"

const (
	// StoreTypeMemory keeps records in process memory.
	StoreTypeMemory = "memory"
	// StoreTypeMongoDB keeps records in MongoDB collections.
	StoreTypeMongoDB = "mongodb"
	// StoreTypeRedis keeps records in Redis hashes.
	StoreTypeRedis = "redis"
	// StoreTypeDynamoDB keeps records in one DynamoDB table per collection.
	StoreTypeDynamoDB = "dynamodb"
)

// Config is the root configuration of the grantstore service.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Store         StoreConfig         `mapstructure:"store"`
	Management    ManagementConfig    `mapstructure:"management"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects and tunes the storage engine behind the record adapters.
type StoreConfig struct {
	Type string `mapstructure:"type"` // memory, mongodb, redis, dynamodb
	URL  string `mapstructure:"url"`

	// MongoDB
	DatabaseName string `mapstructure:"database_name"`

	// Redis and DynamoDB naming
	KeyPrefix string `mapstructure:"key_prefix"`

	// DynamoDB
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" secret:"true"`
	SessionToken    string `mapstructure:"session_token" secret:"true"`

	MaxConns           int                `mapstructure:"max_conns"`
	ConnectTimeout     time.Duration      `mapstructure:"connect_timeout"`
	OperationTimeout   time.Duration      `mapstructure:"operation_timeout"`
	IndexTimeout       time.Duration      `mapstructure:"index_timeout"`
	CascadeConcurrency int                `mapstructure:"cascade_concurrency"`
	ConnectRetry       ConnectRetryConfig `mapstructure:"connect_retry"`
	Memory             MemoryStoreConfig  `mapstructure:"memory"`
}

// ConnectRetryConfig bounds the retries of the initial engine connection.
// MaxAttempts <= 1 disables retrying.
type ConnectRetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// MemoryStoreConfig configures the in-process engine.
type MemoryStoreConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ManagementConfig configures the management server
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	ServiceName       string  `mapstructure:"service_name"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "grantstore",
			Environment: "production",
		},
		Store: StoreConfig{
			Type:               StoreTypeMongoDB,
			URL:                "mongodb://localhost:27017",
			DatabaseName:       "oidc",
			KeyPrefix:          "grantstore",
			MaxConns:           25,
			ConnectTimeout:     10 * time.Second,
			OperationTimeout:   5 * time.Second,
			IndexTimeout:       30 * time.Second,
			CascadeConcurrency: 4,
			ConnectRetry: ConnectRetryConfig{
				MaxAttempts:     1,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
			Memory: MemoryStoreConfig{
				SweepInterval: time.Minute,
			},
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "grantstore",
			TracingEnabled:    false,
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "APP")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// ConfigFile returns the path of the configuration file, or empty string if none.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v, err := l.newViper()
	if err != nil {
		return nil, err
	}
	return l.finish(v)
}

func (l *ViperLoader) newViper() (*viper.Viper, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}
	return v, nil
}

func (l *ViperLoader) finish(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(l.envPrefix)
	l.bindLegacyEnvVars()
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Store
	v.BindEnv("store.type", l.prefixedEnv("STORE_TYPE"))
	v.BindEnv("store.url", l.prefixedEnv("STORE_URL"))
	v.BindEnv("store.database_name", l.prefixedEnv("STORE_DATABASE_NAME"))
	v.BindEnv("store.key_prefix", l.prefixedEnv("STORE_KEY_PREFIX"))
	v.BindEnv("store.region", l.prefixedEnv("STORE_REGION"))
	v.BindEnv("store.endpoint", l.prefixedEnv("STORE_ENDPOINT"))
	v.BindEnv("store.access_key_id", l.prefixedEnv("STORE_ACCESS_KEY_ID"))
	v.BindEnv("store.secret_access_key", l.prefixedEnv("STORE_SECRET_ACCESS_KEY"))
	v.BindEnv("store.session_token", l.prefixedEnv("STORE_SESSION_TOKEN"))
	v.BindEnv("store.max_conns", l.prefixedEnv("STORE_MAX_CONNS"))
	v.BindEnv("store.connect_timeout", l.prefixedEnv("STORE_CONNECT_TIMEOUT"))
	v.BindEnv("store.operation_timeout", l.prefixedEnv("STORE_OPERATION_TIMEOUT"))
	v.BindEnv("store.index_timeout", l.prefixedEnv("STORE_INDEX_TIMEOUT"))
	v.BindEnv("store.cascade_concurrency", l.prefixedEnv("STORE_CASCADE_CONCURRENCY"))
	v.BindEnv("store.connect_retry.max_attempts", l.prefixedEnv("STORE_CONNECT_RETRY_MAX_ATTEMPTS"))
	v.BindEnv("store.connect_retry.initial_interval", l.prefixedEnv("STORE_CONNECT_RETRY_INITIAL_INTERVAL"))
	v.BindEnv("store.connect_retry.max_interval", l.prefixedEnv("STORE_CONNECT_RETRY_MAX_INTERVAL"))
	v.BindEnv("store.memory.sweep_interval", l.prefixedEnv("STORE_MEMORY_SWEEP_INTERVAL"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.service_name", l.prefixedEnv("OBSERVABILITY_SERVICE_NAME"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
}

// bindLegacyEnvVars maps legacy env vars to current names when the current vars are absent.
// Unprefixed legacy names are read as-is.
func (l *ViperLoader) bindLegacyEnvVars() {
	aliases := []struct {
		currentSuffix string
		legacyName    string
	}{
		{"STORE_URL", "MONGODB_URI"},
		{"STORE_URL", l.prefixedEnv("DATABASE_URL")},
		{"STORE_DATABASE_NAME", l.prefixedEnv("DATABASE_DATABASE_NAME")},
		{"MGMT_PORT", l.prefixedEnv("MANAGEMENT_PORT")},
		{"MGMT_READ_TIMEOUT", l.prefixedEnv("MANAGEMENT_READ_TIMEOUT")},
		{"MGMT_WRITE_TIMEOUT", l.prefixedEnv("MANAGEMENT_WRITE_TIMEOUT")},
	}

	for _, alias := range aliases {
		currentEnv := l.prefixedEnv(alias.currentSuffix)
		if _, hasCurrent := os.LookupEnv(currentEnv); hasCurrent {
			continue
		}
		if legacyValue, hasLegacy := os.LookupEnv(alias.legacyName); hasLegacy {
			_ = os.Setenv(currentEnv, legacyValue)
		}
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("store.type", cfg.Store.Type)
	v.SetDefault("store.url", cfg.Store.URL)
	v.SetDefault("store.database_name", cfg.Store.DatabaseName)
	v.SetDefault("store.key_prefix", cfg.Store.KeyPrefix)
	v.SetDefault("store.region", cfg.Store.Region)
	v.SetDefault("store.endpoint", cfg.Store.Endpoint)
	v.SetDefault("store.access_key_id", cfg.Store.AccessKeyID)
	v.SetDefault("store.secret_access_key", cfg.Store.SecretAccessKey)
	v.SetDefault("store.session_token", cfg.Store.SessionToken)
	v.SetDefault("store.max_conns", cfg.Store.MaxConns)
	v.SetDefault("store.connect_timeout", cfg.Store.ConnectTimeout)
	v.SetDefault("store.operation_timeout", cfg.Store.OperationTimeout)
	v.SetDefault("store.index_timeout", cfg.Store.IndexTimeout)
	v.SetDefault("store.cascade_concurrency", cfg.Store.CascadeConcurrency)
	v.SetDefault("store.connect_retry.max_attempts", cfg.Store.ConnectRetry.MaxAttempts)
	v.SetDefault("store.connect_retry.initial_interval", cfg.Store.ConnectRetry.InitialInterval)
	v.SetDefault("store.connect_retry.max_interval", cfg.Store.ConnectRetry.MaxInterval)
	v.SetDefault("store.memory.sweep_interval", cfg.Store.Memory.SweepInterval)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", l.defaultServiceName(cfg.Observability.ServiceName))
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate validates the configuration and returns detailed errors
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	cfg.Store.URL = strings.TrimSpace(cfg.Store.URL)

	validStoreTypes := []string{StoreTypeMemory, StoreTypeMongoDB, StoreTypeRedis, StoreTypeDynamoDB}
	if !slices.Contains(validStoreTypes, cfg.Store.Type) {
		errs = append(errs, fmt.Errorf("invalid store.type: %q (must be one of: %v)", cfg.Store.Type, validStoreTypes))
	}

	switch cfg.Store.Type {
	case StoreTypeMongoDB:
		if cfg.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for MongoDB"))
		}
		if strings.TrimSpace(cfg.Store.DatabaseName) == "" {
			errs = append(errs, errors.New("store.database_name is required for MongoDB"))
		}
	case StoreTypeRedis:
		if cfg.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for Redis"))
		}
	case StoreTypeDynamoDB:
		if strings.TrimSpace(cfg.Store.Region) == "" {
			errs = append(errs, errors.New("store.region is required for DynamoDB"))
		}
		if (cfg.Store.AccessKeyID == "") != (cfg.Store.SecretAccessKey == "") {
			errs = append(errs, errors.New("store.access_key_id and store.secret_access_key must be set together"))
		}
	}

	if cfg.Store.MaxConns < 0 {
		errs = append(errs, errors.New("store.max_conns must be >= 0"))
	}
	if cfg.Store.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("store.connect_timeout must be > 0"))
	}
	if cfg.Store.OperationTimeout <= 0 {
		errs = append(errs, errors.New("store.operation_timeout must be > 0"))
	}
	if cfg.Store.IndexTimeout <= 0 {
		errs = append(errs, errors.New("store.index_timeout must be > 0"))
	}
	if cfg.Store.CascadeConcurrency < 1 {
		errs = append(errs, errors.New("store.cascade_concurrency must be >= 1"))
	}
	if cfg.Store.ConnectRetry.MaxAttempts > 1 {
		if cfg.Store.ConnectRetry.InitialInterval <= 0 {
			errs = append(errs, errors.New("store.connect_retry.initial_interval must be > 0 when retries are enabled"))
		}
		if cfg.Store.ConnectRetry.MaxInterval < cfg.Store.ConnectRetry.InitialInterval {
			errs = append(errs, errors.New("store.connect_retry.max_interval must be >= initial_interval"))
		}
	}
	if cfg.Store.Memory.SweepInterval < 0 {
		errs = append(errs, errors.New("store.memory.sweep_interval must be >= 0"))
	}

	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid management.port: %d", cfg.Management.Port))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
	}
	if cfg.Observability.TracingEnabled && strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

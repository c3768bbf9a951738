package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/grantstore/pkg/cli/records"
	"github.com/nimburion/grantstore/pkg/config"
	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/store"
	"github.com/nimburion/grantstore/pkg/version"
)

// DialerFactory builds the engine dialer for a store configuration.
type DialerFactory func(cfg config.StoreConfig, log logger.Logger) (grantstore.Dialer, error)

// ServiceCommandOptions defines callbacks for service-specific logic.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: replaces the built-in serve runtime.
	RunServer func(ctx context.Context, cfg *config.Config, log logger.Logger) error

	// Optional: overrides store.NewDialer for serve, healthcheck and records.
	NewDialer DialerFactory

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// NewServiceCommand creates the grantstore CLI with serve, healthcheck, records,
// config and version subcommands. serve is also the root command's default action.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "APP"
	}
	if opts.NewDialer == nil {
		opts.NewDialer = store.NewDialer
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var cfgPath string
	var secretFilePath string
	var serviceNameOverride string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets APP_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&serviceNameOverride, "service-name", "", "service name override")

	loadConfig := func(*pflag.FlagSet) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, opts.Name, serviceNameOverride)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
		},
	})

	var models []string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect the store, provision indexes and serve health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if opts.RunServer != nil {
				return opts.RunServer(cmd.Context(), cfg, log)
			}
			return RunServe(cmd.Context(), cfg, log, ServeOptions{
				Name:      opts.Name,
				NewDialer: opts.NewDialer,
				Models:    models,
			})
		},
	}
	serveCmd.Flags().StringSliceVar(&models, "models", DefaultModels, "entity types registered at startup")
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	var healthTimeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return CheckStore(cmd.Context(), cfg, log, opts.NewDialer, healthTimeout, cmd.OutOrStdout())
		},
	}
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "max time to wait for the store connection")
	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(records.NewCommand(records.Options{
		LoadConfig: loadConfig,
		NewDialer:  records.DialerFactory(opts.NewDialer),
	}))

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadSettings(cfgPath, opts.EnvPrefix, secretFilePath, opts.Name, serviceNameOverride); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, err := loadSettings(cfgPath, opts.EnvPrefix, secretFilePath, opts.Name, serviceNameOverride)
			if err != nil {
				return err
			}
			settings := cfg.Settings(secrets)
			if showSecrets {
				settings = cfg.Settings(nil)
				unmaskSecretFields(settings, cfg)
			}
			formatted, err := formatSettings(settings)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	rootCmd.AddCommand(configCmd)

	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

// LoadConfigAndLogger loads configuration (with secrets) and builds the zap logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath, defaultServiceName, serviceNameOverride string) (*config.Config, logger.Logger, error) {
	cfg, _, err := loadSettings(cfgPath, envPrefix, secretFilePath, defaultServiceName, serviceNameOverride)
	if err != nil {
		return nil, nil, err
	}

	level, err := logger.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	format, err := logger.ParseLogFormat(cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format, Output: os.Stderr})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg)
	return cfg, log.With("service", cfg.Service.Name), nil
}

func loadSettings(cfgPath, envPrefix, secretFilePath, defaultServiceName, serviceNameOverride string) (*config.Config, *config.Config, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, resolveEnvPrefix(envPrefix)).
		WithServiceNameDefault(defaultServiceName).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)
	return cfg, secrets, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(settings map[string]any) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// unmaskSecretFields restores the always-secret store credentials for --show-secrets.
func unmaskSecretFields(settings map[string]any, cfg *config.Config) {
	storeSettings, ok := settings["store"].(map[string]any)
	if !ok {
		return
	}
	storeSettings["secret_access_key"] = cfg.Store.SecretAccessKey
	storeSettings["session_token"] = cfg.Store.SessionToken
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}

	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}

	log.Debug("effective configuration", "config", cfg.Settings(nil))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "grantstore"
}

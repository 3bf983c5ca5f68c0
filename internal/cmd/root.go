package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/appid"
	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	queueDir string

	// settings is the viper instance built by initConfig for this invocation.
	settings *viper.Viper

	// App identity, built in unless FULMEN_APP_IDENTITY_PATH points elsewhere
	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity.
func GetAppIdentity() *appidentity.Identity {
	if appIdentity == nil {
		return appid.Default()
	}
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appid.BinaryName,
	Short: "Rate-governed control loop for a Lightning tool worker",
	Long: `lnagent drains a durable file queue of Lightning requests, dispatches each one
to a tool worker subprocess under rate, cost and concurrency limits, and appends
the outcome to an outbound results log.

Producers use "enqueue" and "last"; operators use "run", "status" and "history".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so config loading never emits metrics to
	// stdout. The run command initializes the Prometheus exporter itself.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		if identity.BinaryName != "" {
			rootCmd.Use = identity.BinaryName
		}
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/lnagent/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVarP(&queueDir, "queue", "q", "", "queue directory (overrides queue.dir)")
}

// initConfig builds the viper instance for this invocation: defaults, the
// config file if one exists, then LNAGENT_* environment variables.
func initConfig() {
	identity := GetAppIdentity()
	observability.InitCLILogger(identity.BinaryName, verbose)

	settings = newSettings(cfgFile)
	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		case cfgFile == "" && errors.Is(err, os.ErrNotExist):
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		default:
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
		return
	}
	observability.CLILogger.Debug("Using config file", zap.String("path", settings.ConfigFileUsed()))
}

func newSettings(explicit string) *viper.Viper {
	v := config.NewViper()
	if strings.TrimSpace(explicit) != "" {
		v.SetConfigFile(explicit)
		return v
	}

	if path := config.DefaultConfigPath(); path != "" {
		v.AddConfigPath(filepath.Dir(path))
	}
	// Also search in current directory
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return v
}

// loadConfig decodes the effective configuration, applying the --queue
// flag above every other layer.
func loadConfig() (*config.Config, error) {
	if settings == nil {
		settings = newSettings(cfgFile)
	}

	var overrides []map[string]any
	if dir := strings.TrimSpace(queueDir); dir != "" {
		overrides = append(overrides, map[string]any{"queue": map[string]any{"dir": dir}})
	}

	cfg, err := config.Load(settings, overrides...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Package config provides layered configuration for the agent:
// built-in defaults, an optional YAML file, environment variables and
// runtime overrides (highest precedence), decoded into a typed Config.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lnagent/lnagent/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// NewViper returns a viper instance wired for environment overrides: the key
// queue.dir is read from LNAGENT_QUEUE_DIR.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(appid.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Queue defaults
	v.SetDefault("queue.dir", DefaultQueueDir())
	v.SetDefault("queue.max_batch", 0)

	// Scheduler defaults
	v.SetDefault("scheduler.tick", "500ms")

	// Provider allocation
	v.SetDefault("limits.rpm", 30)
	v.SetDefault("limits.tpm", 60000)
	v.SetDefault("limits.min_interval", "1s")
	v.SetDefault("limits.max_in_flight", 1)

	// Backoff defaults
	v.SetDefault("backoff.base", "1s")
	v.SetDefault("backoff.max", "30s")
	v.SetDefault("backoff.jitter", "250ms")
	v.SetDefault("backoff.circuit_breaker_after", 6)
	v.SetDefault("backoff.circuit_breaker_open", "60s")
	v.SetDefault("backoff.permanent_cooldown", "5m")
	v.SetDefault("backoff.tool_errors_trip", false)

	// Control loop defaults
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.output_allowance", 512)
	v.SetDefault("agent.max_content_chars", 8000)

	// Worker defaults
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.dir", "")
	v.SetDefault("worker.call_timeout", "30s")
	v.SetDefault("worker.stderr_limit", 64*1024)
	v.SetDefault("worker.shutdown_grace", "5s")

	// Store defaults
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Status server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}

// Load decodes v into a typed Config. Runtime overrides are nested maps
// (e.g. {"server": {"port": 9000}}) applied above every other layer.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	for _, overrides := range runtimeOverrides {
		for key, value := range flatten("", overrides) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Queue.Dir) == "" {
		cfg.Queue.Dir = DefaultQueueDir()
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks the values every command needs. When forRun is set the
// settings only the control loop uses are checked too.
func (c *Config) Validate(forRun bool) error {
	var errs []error
	if strings.TrimSpace(c.Queue.Dir) == "" {
		errs = append(errs, errors.New("queue.dir is required"))
	}
	if c.Queue.MaxBatch < 0 {
		errs = append(errs, fmt.Errorf("queue.max_batch must not be negative, got %d", c.Queue.MaxBatch))
	}
	switch strings.TrimSpace(c.Store.Driver) {
	case "", "libsql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be libsql or sqlite, got %q", c.Store.Driver))
	}

	if forRun {
		if c.Scheduler.Tick <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.tick must be positive, got %s", c.Scheduler.Tick))
		}
		if c.Limits.RPM <= 0 {
			errs = append(errs, fmt.Errorf("limits.rpm must be positive, got %d", c.Limits.RPM))
		}
		if c.Limits.TPM <= 0 {
			errs = append(errs, fmt.Errorf("limits.tpm must be positive, got %d", c.Limits.TPM))
		}
		if c.Limits.TPM > 0 && c.Agent.OutputAllowance >= float64(c.Limits.TPM) {
			errs = append(errs, fmt.Errorf("agent.output_allowance must be below limits.tpm (%.0f, %d)", c.Agent.OutputAllowance, c.Limits.TPM))
		}
		if c.Limits.MaxInFlight <= 0 {
			errs = append(errs, fmt.Errorf("limits.max_in_flight must be positive, got %d", c.Limits.MaxInFlight))
		}
		if c.Limits.MinInterval < 0 {
			errs = append(errs, fmt.Errorf("limits.min_interval must not be negative, got %s", c.Limits.MinInterval))
		}
		if c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base {
			errs = append(errs, fmt.Errorf("backoff.base must be positive and not above backoff.max (%s, %s)", c.Backoff.Base, c.Backoff.Max))
		}
		if strings.TrimSpace(c.Worker.Command) == "" {
			errs = append(errs, errors.New("worker.command is required to run the agent"))
		}
		if c.Worker.CallTimeout <= 0 {
			errs = append(errs, fmt.Errorf("worker.call_timeout must be positive, got %s", c.Worker.CallTimeout))
		}
	}
	return errors.Join(errs...)
}

// StarterYAML renders the effective settings of v as a YAML config file.
func StarterYAML(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	// Secrets never land in a generated file.
	if store, ok := settings["store"].(map[string]any); ok {
		store["auth_token"] = ""
	}

	body, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	header := fmt.Sprintf("# %s configuration\n# Environment variables override these values, e.g. %sQUEUE_DIR.\n", appid.BinaryName, appid.EnvPrefix)
	return append([]byte(header), body...), nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// UserConfigPaths returns the config file locations searched when no
// explicit --config is given.
func UserConfigPaths() []string {
	return gfconfig.GetAppConfigPaths(appid.ConfigName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultQueueDir returns the default queue directory.
func DefaultQueueDir() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return filepath.Join(".", "queue")
	}
	return filepath.Join(dataDir, "queue")
}

// DefaultStorePath returns the XDG-compliant path to the ledger database.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, values map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

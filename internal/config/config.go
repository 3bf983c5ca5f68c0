package config

import (
	"time"
)

// Config represents the complete agent configuration. Values are layered:
// built-in defaults (SetDefaults), an optional YAML config file, then
// environment variables with the identity's prefix (LNAGENT_QUEUE_DIR, ...).
type Config struct {
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Backoff   BackoffConfig   `mapstructure:"backoff" yaml:"backoff"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// QueueConfig locates the durable queue files.
type QueueConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxBatch bounds the entries read per tick; 0 reads all pending entries.
	MaxBatch int `mapstructure:"max_batch" yaml:"max_batch"`
}

// SchedulerConfig controls the tick cadence.
type SchedulerConfig struct {
	Tick time.Duration `mapstructure:"tick" yaml:"tick"`
}

// LimitsConfig is the provider allocation enforced by the rate limiter and
// the concurrency gate.
type LimitsConfig struct {
	RPM         int           `mapstructure:"rpm" yaml:"rpm"`
	TPM         int           `mapstructure:"tpm" yaml:"tpm"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	MaxInFlight int           `mapstructure:"max_in_flight" yaml:"max_in_flight"`
}

// BackoffConfig controls retry delays and the circuit breaker.
type BackoffConfig struct {
	Base                time.Duration `mapstructure:"base" yaml:"base"`
	Max                 time.Duration `mapstructure:"max" yaml:"max"`
	Jitter              time.Duration `mapstructure:"jitter" yaml:"jitter"`
	CircuitBreakerAfter int           `mapstructure:"circuit_breaker_after" yaml:"circuit_breaker_after"`
	CircuitBreakerOpen  time.Duration `mapstructure:"circuit_breaker_open" yaml:"circuit_breaker_open"`
	PermanentCooldown   time.Duration `mapstructure:"permanent_cooldown" yaml:"permanent_cooldown"`
	ToolErrorsTrip      bool          `mapstructure:"tool_errors_trip" yaml:"tool_errors_trip"`
}

// AgentConfig holds control loop tunables.
type AgentConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	OutputAllowance float64 `mapstructure:"output_allowance" yaml:"output_allowance"`
	MaxContentChars int     `mapstructure:"max_content_chars" yaml:"max_content_chars"`
}

// WorkerConfig describes how to launch the tool worker process.
type WorkerConfig struct {
	Command       string        `mapstructure:"command" yaml:"command"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	Env           []string      `mapstructure:"env" yaml:"env"`
	Dir           string        `mapstructure:"dir" yaml:"dir"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	StderrLimit   int           `mapstructure:"stderr_limit" yaml:"stderr_limit"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// StoreConfig contains database configuration for the execution ledger.
type StoreConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Driver is libsql (default) or sqlite (pure Go, no cgo).
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// ServerConfig contains the status server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for one-shot CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// AgentLogger is used by the control loop, the worker client and the
	// status server (STRUCTURED profile)
	AgentLogger *logging.Logger
)

// logLevels maps accepted config spellings to gofulmen severities.
var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatalStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitAgentLogger initializes the long-running agent logger. Every line
// carries the run id so restarts can be told apart.
func InitAgentLogger(serviceName string, logLevel string, runID string) {
	logger, err := logging.New(agentLoggerConfig(serviceName, logLevel, runID))
	if err != nil {
		fatalStderr(foundry.ExitConfigInvalid, "Failed to initialize agent logger", err)
	}
	AgentLogger = logger
}

// agentLoggerConfig writes JSON to stderr; stdout may carry protocol lines
// when the binary runs as a worker.
func agentLoggerConfig(serviceName, logLevel, runID string) *logging.LoggerConfig {
	static := map[string]any{"component": "agent"}
	if runID != "" {
		static["run_id"] = runID
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// parseLogLevel converts a config level to a gofulmen severity; unknown
// values fall back to INFO.
func parseLogLevel(levelStr string) string {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(levelStr))]; ok {
		return level
	}
	return "INFO"
}

// fatalStderr exits before any logger exists.
func fatalStderr(exitCode foundry.ExitCode, msg string, err error) {
	line := "FATAL: " + msg
	if err != nil {
		line += ": " + err.Error()
	}
	fmt.Fprintln(os.Stderr, line)

	code := int(exitCode)
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		code = info.Code
	}
	os.Exit(code)
}

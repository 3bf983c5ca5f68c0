package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/worker"
)

var (
	workerFixture string
	workerName    string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve canned tool responses over stdio",
	Long: `Run a mock tool worker that answers requests on stdin with responses taken
from a fixture file (YAML, TOML or JSON). Point worker.command at this binary
with args ["worker", "--fixture", "<file>"] to exercise the agent without a
Lightning node.

Fixture tools may return a result, a tool-level failure, or a worker-reported
error with a status code.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(workerFixture) == "" {
			return invalidConfig(errors.New("--fixture is required"))
		}

		srv, err := worker.FixtureServer(workerName, workerFixture)
		if err != nil {
			return invalidConfig(err)
		}
		observability.CLILogger.Debug("Mock worker ready",
			zap.String("fixture", workerFixture),
			zap.Strings("tools", srv.Tools()))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		signals.OnShutdown(func(context.Context) error {
			cancel()
			return nil
		})
		go func() {
			if err := signals.Listen(ctx); err != nil && ctx.Err() == nil {
				observability.CLILogger.Warn("Signal handler error", zap.Error(err))
			}
		}()

		err = srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerFixture, "fixture", "", "fixture file with canned tool responses")
	workerCmd.Flags().StringVar(&workerName, "name", "lnagent-mock", "worker name reported by the server")
}

package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/queue"
	"github.com/lnagent/lnagent/internal/worker"
)

var healthPing bool

// healthCheck is one step of the self-check.
type healthCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health checks",
	Long: `Verify that the agent could start: the configuration is valid, the queue
directory is usable, the execution ledger opens and the worker command exists.

With --ping the worker is started and sent a ping through the dispatcher.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}

		checks := []healthCheck{
			{"configuration", checkConfig},
			{"queue directory", checkQueue},
			{"execution ledger", checkLedger},
			{"worker command", checkWorkerCommand},
		}
		if healthPing {
			checks = append(checks, healthCheck{"worker ping", checkWorkerPing})
		}

		failed := 0
		for i, check := range checks {
			detail, err := check.run(cmd.Context(), cfg)
			label := fmt.Sprintf("[%d/%d] %s", i+1, len(checks), check.name)
			if err != nil {
				failed++
				observability.CLILogger.Error(label+"... ❌", zap.Error(err))
				continue
			}
			observability.CLILogger.Info(label + "... ✅ " + detail)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d health checks failed", failed, len(checks))
		}
		observability.CLILogger.Info("✅ All health checks passed")
		return nil
	},
}

func checkConfig(_ context.Context, cfg *config.Config) (string, error) {
	if err := cfg.Validate(true); err != nil {
		return "", invalidConfig(err)
	}
	if used := settings.ConfigFileUsed(); used != "" {
		return used, nil
	}
	return "defaults and environment", nil
}

func checkQueue(_ context.Context, cfg *config.Config) (string, error) {
	q, err := queue.Open(canonicalQueueDir(cfg.Queue.Dir))
	if err != nil {
		return "", err
	}
	backlog, err := q.Backlog()
	if err != nil {
		return "", err
	}
	holder, held, err := queue.LockHolder(q.Dir())
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("%s (%d bytes pending)", q.Dir(), backlog)
	if held {
		detail += ", agent running: " + holder
	}
	return detail, nil
}

func checkLedger(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Store.Enabled {
		return "disabled", nil
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup
	return db.Driver(), nil
}

func checkWorkerCommand(_ context.Context, cfg *config.Config) (string, error) {
	path, err := exec.LookPath(cfg.Worker.Command)
	if err != nil {
		return "", err
	}
	return path, nil
}

func checkWorkerPing(ctx context.Context, cfg *config.Config) (string, error) {
	client, err := worker.NewClient(worker.Config{
		Command:       cfg.Worker.Command,
		Args:          cfg.Worker.Args,
		Env:           cfg.Worker.Env,
		Dir:           cfg.Worker.Dir,
		CallTimeout:   cfg.Worker.CallTimeout,
		StderrLimit:   cfg.Worker.StderrLimit,
		ShutdownGrace: cfg.Worker.ShutdownGrace,
	})
	if err != nil {
		return "", err
	}
	defer client.Close() // nolint:errcheck // best-effort cleanup

	if err := client.Start(ctx); err != nil {
		return "", err
	}

	d := &dispatch.Dispatcher{Registry: dispatch.DefaultRegistry(), Caller: client}
	start := time.Now()
	if _, err := d.Dispatch(ctx, 0, "ping", nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("pid %d answered in %s", client.PID(), time.Since(start).Round(time.Millisecond)), nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthPing, "ping", false, "start the worker and send it a ping")
}

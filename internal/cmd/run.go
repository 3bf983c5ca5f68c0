package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lnagent/lnagent/internal/agent"
	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/core/engine"
	"github.com/lnagent/lnagent/internal/core/store"
	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/queue"
	"github.com/lnagent/lnagent/internal/server"
	"github.com/lnagent/lnagent/internal/server/handlers"
	"github.com/lnagent/lnagent/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop",
	Long: `Run the control loop against the configured queue directory.

Each tick reads new requests, admits them through the circuit breaker,
backoff, rate limit and concurrency gates, dispatches them to the worker
process and appends the outcome to the results log. Only one agent may run
per queue directory.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown after the current request
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file (changes apply on restart)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		if err := cfg.Validate(true); err != nil {
			return invalidConfig(err)
		}
		return runAgent(cmd.Context(), cfg)
	},
}

// agentRuntime holds everything one run owns and must release.
type agentRuntime struct {
	cfg    *config.Config
	runID  string
	lock   *queue.InstanceLock
	queue  *queue.Queue
	db     *store.Store
	worker *worker.Client
	loop   *agent.Loop
}

// newAgentRuntime takes the instance lock and wires the control loop. The
// returned runtime must be closed even when the loop never ran.
func newAgentRuntime(ctx context.Context, cfg *config.Config, runID string) (*agentRuntime, error) {
	dir := canonicalQueueDir(cfg.Queue.Dir)
	rt := &agentRuntime{cfg: cfg, runID: runID}

	lock, err := queue.AcquireInstanceLock(dir)
	if err != nil {
		return nil, err
	}
	rt.lock = lock

	if rt.queue, err = queue.Open(dir); err != nil {
		rt.close()
		return nil, err
	}

	admission := &engine.Admission{
		Backoff: engine.NewBackoff(engine.BackoffConfig{
			BaseDelay:           cfg.Backoff.Base,
			MaxDelay:            cfg.Backoff.Max,
			Jitter:              cfg.Backoff.Jitter,
			CircuitBreakerAfter: cfg.Backoff.CircuitBreakerAfter,
			CircuitBreakerOpen:  cfg.Backoff.CircuitBreakerOpen,
		}),
		Limiter: engine.NewRateLimiter(engine.RateLimitConfig{
			RequestsPerMinute:  cfg.Limits.RPM,
			CostUnitsPerMinute: cfg.Limits.TPM,
			MinInterval:        cfg.Limits.MinInterval,
		}),
		Gate: engine.NewGate(cfg.Limits.MaxInFlight),
	}

	if cfg.Store.Enabled {
		if rt.db, err = openStore(ctx, cfg); err != nil {
			rt.close()
			return nil, fmt.Errorf("open execution ledger: %w", err)
		}
		saved, err := rt.db.LoadBackoff(ctx, dir)
		if err != nil {
			rt.close()
			return nil, err
		}
		if saved != nil {
			admission.Backoff.Restore(*saved)
			runtimeInfo("Restored backoff state",
				zap.Uint32("attempt", saved.Attempt),
				zap.Uint32("consecutive_failures", saved.ConsecutiveFailures),
				zap.Time("blocked_until", saved.BlockedUntil),
				zap.Time("circuit_open_until", saved.CircuitOpenUntil))
		}
	}

	rt.worker, err = worker.NewClient(worker.Config{
		Command:       cfg.Worker.Command,
		Args:          cfg.Worker.Args,
		Env:           cfg.Worker.Env,
		Dir:           cfg.Worker.Dir,
		CallTimeout:   cfg.Worker.CallTimeout,
		StderrLimit:   cfg.Worker.StderrLimit,
		ShutdownGrace: cfg.Worker.ShutdownGrace,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	// A worker that fails to start is restarted by the loop before each call.
	if err := rt.worker.Start(ctx); err != nil {
		runtimeWarn("Worker failed to start", zap.Error(err))
	}

	scheduler, err := engine.NewScheduler(cfg.Scheduler.Tick)
	if err != nil {
		rt.close()
		return nil, err
	}

	estimator := engine.DefaultCostEstimator()
	estimator.OutputAllowance = cfg.Agent.OutputAllowance

	rt.loop = &agent.Loop{
		Queue:      rt.queue,
		Dispatcher: &dispatch.Dispatcher{Registry: dispatch.DefaultRegistry(), Caller: rt.worker},
		Admission:  admission,
		Scheduler:  scheduler,
		Estimator:  estimator,
		Worker:     rt.worker,
		Config: agent.Config{
			MaxBatch:        cfg.Queue.MaxBatch,
			MaxAttempts:     cfg.Agent.MaxAttempts,
			MaxContentChars: cfg.Agent.MaxContentChars,
			Policy: agent.Policy{
				PermanentCooldown: cfg.Backoff.PermanentCooldown,
				ToolErrorsTrip:    cfg.Backoff.ToolErrorsTrip,
			},
		},
		RunID: runID,
	}
	if rt.db != nil {
		rt.loop.Ledger = rt.db
		rt.loop.State = rt.db
	}
	return rt, nil
}

// healthManager registers the checks served on /health.
func (rt *agentRuntime) healthManager() *handlers.HealthManager {
	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("queue", handlers.CheckFunc(func(context.Context) error {
		_, err := rt.queue.Cursor()
		return err
	}))
	if rt.db != nil {
		hm.RegisterChecker("ledger", handlers.CheckFunc(func(ctx context.Context) error {
			return rt.db.DB.PingContext(ctx)
		}))
	}
	hm.RegisterChecker("worker", handlers.Soft(handlers.CheckFunc(func(context.Context) error {
		if !rt.worker.Alive() {
			return errors.New("worker process is not running")
		}
		return nil
	})))
	hm.RegisterChecker("circuit", handlers.Soft(handlers.CheckFunc(func(context.Context) error {
		if rt.loop.Status().Admission.CircuitOpen {
			return errors.New("circuit breaker is open")
		}
		return nil
	})))
	return hm
}

// serve runs the loop, and the status server when enabled, until ctx is
// cancelled or one of them fails. done is closed once the loop has stopped.
func (rt *agentRuntime) serve(ctx context.Context, done chan<- struct{}) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		return rt.loop.Run(gctx)
	})

	if rt.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Host:            rt.cfg.Server.Host,
			Port:            rt.cfg.Server.Port,
			ReadTimeout:     rt.cfg.Server.ReadTimeout,
			WriteTimeout:    rt.cfg.Server.WriteTimeout,
			ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
		}, server.Deps{
			Status: rt.loop,
			Health: rt.healthManager(),
			Build: handlers.BuildInfo{
				Version:   versionInfo.Version,
				Commit:    versionInfo.Commit,
				BuildDate: versionInfo.BuildDate,
			},
			Identity: GetAppIdentity(),
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

func (rt *agentRuntime) close() {
	if rt.worker != nil {
		if err := rt.worker.Close(); err != nil {
			runtimeWarn("Worker shutdown returned error", zap.Error(err))
		}
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.lock != nil {
		_ = rt.lock.Release()
	}
}

func runtimeInfo(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Info(msg, fields...)
	}
}

func runtimeWarn(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Warn(msg, fields...)
	}
}

func runAgent(parent context.Context, cfg *config.Config) error {
	identity := GetAppIdentity()
	runID := uuid.NewString()

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	observability.InitAgentLogger(identity.BinaryName, level, runID)
	logger := observability.AgentLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, identity.TelemetryNamespace()); err != nil {
			return fmt.Errorf("metrics initialization failed: %w", err)
		}
		defer func() { _ = observability.ShutdownMetrics() }()
	}

	rt, err := newAgentRuntime(parent, cfg, runID)
	if err != nil {
		return err
	}
	defer rt.close()

	logger.Info("Starting agent",
		zap.String("version", versionInfo.Version),
		zap.String("queue", rt.queue.Dir()),
		zap.String("worker", cfg.Worker.Command),
		zap.Duration("tick", cfg.Scheduler.Tick),
		zap.Int("rpm", cfg.Limits.RPM),
		zap.Int("tpm", cfg.Limits.TPM),
		zap.Bool("ledger", rt.db != nil),
		zap.Bool("server", cfg.Server.Enabled))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	done := make(chan struct{})

	// Shutdown handlers run LIFO: stop the loop first, flush the logger last.
	signals.OnShutdown(func(context.Context) error {
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(context.Context) error {
		logger.Info("Shutdown requested, finishing the current request")
		cancel()
		grace := cfg.Worker.CallTimeout + cfg.Worker.ShutdownGrace
		select {
		case <-done:
			logger.Info("Control loop stopped")
		case <-time.After(grace):
			logger.Warn("Control loop did not stop within grace period", zap.Duration("grace", grace))
		}
		return nil
	})
	signals.OnReload(func(context.Context) error {
		fresh := newSettings(cfgFile)
		if err := fresh.ReadInConfig(); err != nil {
			logger.Warn("Config reload failed", zap.Error(err))
			return nil
		}
		next, err := config.Load(fresh)
		if err == nil {
			err = next.Validate(true)
		}
		if err != nil {
			logger.Warn("Reloaded config is invalid", zap.Error(err))
			return nil
		}
		logger.Info("Config file is valid; restart the agent to apply changes",
			zap.String("file", fresh.ConfigFileUsed()))
		return nil
	})
	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
	go func() {
		if err := signals.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Signal handler error", zap.Error(err))
		}
	}()

	err = rt.serve(ctx, done)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Agent stopped", zap.String("run_id", runID))
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// Package agent runs the control loop: on every scheduler tick it reads
// pending queue entries in FIFO order, admits them through the backoff, rate
// and concurrency gates, performs one worker call per entry and publishes the
// outcome before committing the entry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/core"
	"github.com/lnagent/lnagent/internal/core/engine"
	"github.com/lnagent/lnagent/internal/dispatch"
	errwrap "github.com/lnagent/lnagent/internal/errors"
	"github.com/lnagent/lnagent/internal/metrics"
	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/queue"
)

// Ledger records processed requests. *store.Store satisfies it.
type Ledger interface {
	RecordExecution(ctx context.Context, exec *core.Execution) error
}

// Supervisor keeps the worker process alive. *worker.Client satisfies it.
type Supervisor interface {
	Alive() bool
	Restart(ctx context.Context) error
}

// StateStore persists backoff state across restarts. *store.Store
// satisfies it.
type StateStore interface {
	SaveBackoff(ctx context.Context, queueDir string, state core.BackoffState) error
}

// Config holds the loop tunables.
type Config struct {
	// MaxBatch bounds the entries read per tick; zero reads everything.
	MaxBatch int
	// MaxAttempts bounds executions of an idempotent request that keeps
	// failing with a retryable kind. Values below one mean one attempt.
	MaxAttempts int
	// MaxContentChars caps the content of published results in runes.
	MaxContentChars int

	Policy Policy
}

// TickReport summarizes one tick.
type TickReport struct {
	Read      int
	Processed int
	Succeeded int
	Failed    int
	// Deferred is set when a retryable failure was left in the queue.
	Deferred bool
	// Denied names the gate that ended the tick, empty if none did.
	Denied engine.Denial
}

// Loop is the single-goroutine control loop. Everything except Status must
// be called from the goroutine running Run.
type Loop struct {
	Queue      *queue.Queue
	Dispatcher *dispatch.Dispatcher
	Admission  *engine.Admission
	Scheduler  *engine.Scheduler
	Estimator  engine.CostEstimator
	Ledger     Ledger
	State      StateStore
	Worker     Supervisor
	Config     Config
	Clock      func() time.Time
	RunID      string

	attempts      map[uint64]int
	lastMalformed int64
	savedBackoff  core.BackoffState

	mu   sync.RWMutex
	snap Snapshot
}

// Run waits for each tick and processes it until ctx is cancelled. Errors and
// panics inside a tick are logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	if l.Scheduler == nil {
		return fmt.Errorf("agent loop requires a scheduler")
	}

	l.mu.Lock()
	l.snap.RunID = l.RunID
	l.snap.StartedAt = l.now()
	l.mu.Unlock()
	metrics.SetAgentStartTime(l.now().Unix())

	logInfo("Control loop started",
		zap.String("run_id", l.RunID),
		zap.Duration("cadence", l.Scheduler.Cadence()))

	for {
		tick, err := l.Scheduler.WaitNextTick(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logInfo("Control loop stopped", zap.String("run_id", l.RunID))
				return nil
			}
			return err
		}
		l.runTick(ctx, tick)
	}
}

func (l *Loop) runTick(ctx context.Context, tick engine.Tick) {
	start := l.now()
	var (
		report TickReport
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordPanic("agent")
				err = fmt.Errorf("tick panicked: %v", r)
				logError("Recovered panic in control loop tick",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		report, err = l.Tick(ctx)
	}()

	if err != nil && ctx.Err() == nil {
		env := errwrap.Envelope(err, l.RunID)
		metrics.RecordError(string(errwrap.KindOf(err)), "agent")
		logError("Control loop tick failed",
			zap.Int64("tick", tick.Seq),
			zap.String("error_code", env.Code),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
	}
	if tick.Skipped > 0 {
		logWarn("Scheduler skipped ticks after overrun",
			zap.Int64("tick", tick.Seq),
			zap.Int64("skipped", tick.Skipped))
	}

	l.persistBackoff(ctx)

	duration := l.now().Sub(start)
	metrics.RecordTick(tick.Skipped, duration)
	l.publishSnapshot(tick, report, err)
}

// Tick processes the pending entries once. It stops at the first entry that
// cannot be finished this tick: a denial by any gate, a deferred retry, or an
// idempotent call interrupted by shutdown. Such entries stay uncommitted and
// are read again next tick, so FIFO order holds. When every entry finished,
// the cursor moves to the end of what was read, past any trailing blank or
// malformed lines.
func (l *Loop) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	pending, end, err := l.Queue.Peek(l.Config.MaxBatch)
	if err != nil {
		return report, err
	}
	report.Read = len(pending)

	for _, p := range pending {
		if ctx.Err() != nil {
			return report, nil
		}

		step, err := l.process(ctx, p)
		if err != nil {
			return report, err
		}
		switch {
		case step.denied != engine.DenyNone:
			report.Denied = step.denied
			return report, nil
		case step.deferred:
			report.Deferred = true
			return report, nil
		case step.cancelled:
			return report, nil
		}

		report.Processed++
		if step.failed {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	if err := l.Queue.Commit(end); err != nil {
		return report, err
	}
	return report, nil
}

type stepResult struct {
	denied    engine.Denial
	deferred  bool
	cancelled bool
	failed    bool
}

func (l *Loop) process(ctx context.Context, p *queue.Pending) (stepResult, error) {
	entry := p.Entry

	prepared, err := l.Dispatcher.Prepare(entry.ID, entry.Kind, entry.Args)
	if err != nil {
		exec := &core.Execution{
			RequestID: entry.ID,
			Kind:      entry.Kind,
			Status:    core.ExecutionRejected,
			StartedAt: l.now(),
		}
		if err := l.finish(ctx, p, nil, exec, nil, err); err != nil {
			return stepResult{}, err
		}
		return stepResult{failed: true}, nil
	}

	estimated := l.Estimator.Estimate(entry.Kind, entry.Payload, prepared.Params)
	if l.Admission.Limiter != nil && estimated > l.Admission.Limiter.CostCapacity() {
		exec := &core.Execution{
			RequestID:     entry.ID,
			Kind:          entry.Kind,
			Method:        prepared.Operation.Method,
			Status:        core.ExecutionRejected,
			EstimatedCost: estimated,
			StartedAt:     l.now(),
		}
		tooLarge := errwrap.Newf(errwrap.KindInvalidRequest, "admit",
			"estimated cost %.0f exceeds the cost budget capacity %.0f",
			estimated, l.Admission.Limiter.CostCapacity())
		if err := l.finish(ctx, p, prepared, exec, nil, tooLarge); err != nil {
			return stepResult{}, err
		}
		return stepResult{failed: true}, nil
	}

	release, denial := l.Admission.Admit(estimated)
	if denial != engine.DenyNone {
		metrics.RecordDenial(string(denial))
		logDebug("Admission denied, ending tick",
			zap.Uint64("request_id", entry.ID),
			zap.String("gate", string(denial)))
		return stepResult{denied: denial}, nil
	}

	attempt := l.attempts[entry.ID] + 1
	started := l.now()
	// Shutdown does not abort a call in flight; CallTimeout still bounds it.
	outcome := l.call(context.WithoutCancel(ctx), prepared, release)
	duration := l.now().Sub(started)

	interrupted := ctx.Err() != nil && lostInFlight(outcome.Err)
	if interrupted && prepared.Operation.Idempotent {
		logInfo("Call interrupted by shutdown, leaving request queued",
			zap.Uint64("request_id", entry.ID))
		return stepResult{cancelled: true}, nil
	}

	actual := l.Estimator.Actual(entry.Kind, entry.Payload, prepared.Params, outcome.ResponseBytes)
	if l.Admission.Limiter != nil {
		l.Admission.Limiter.Reconcile(actual, estimated)
	}

	var blocked time.Duration
	if !interrupted {
		blocked = l.Config.Policy.Apply(l.Admission.Backoff, entry.ID, outcome.Err)
	}
	if blocked > 0 {
		logWarn("Backing off after failure",
			zap.Uint64("request_id", entry.ID),
			zap.String("error_kind", string(errwrap.KindOf(outcome.Err))),
			zap.Duration("blocked_for", blocked))
	}

	if !interrupted && outcome.Err != nil && l.shouldRetry(prepared.Operation, outcome.Err, attempt) {
		l.setAttempts(entry.ID, attempt)
		metrics.RecordDeferred(entry.Kind, string(errwrap.KindOf(outcome.Err)))
		logWarn("Retryable failure, request stays queued",
			zap.Uint64("request_id", entry.ID),
			zap.String("kind", entry.Kind),
			zap.Int("attempt", attempt),
			zap.Error(outcome.Err))
		return stepResult{deferred: true}, nil
	}

	exec := &core.Execution{
		RequestID:     entry.ID,
		Kind:          entry.Kind,
		Method:        prepared.Operation.Method,
		Status:        core.ExecutionOK,
		Attempts:      attempt,
		EstimatedCost: estimated,
		ActualCost:    actual,
		StartedAt:     started,
		Duration:      duration,
	}
	if outcome.Err != nil {
		exec.Status = core.ExecutionError
	}
	if interrupted {
		// The node may have acted on it; replaying is not safe.
		exec.Status = core.ExecutionUnknown
		logWarn("Non-idempotent call interrupted by shutdown, outcome unknown",
			zap.Uint64("request_id", entry.ID),
			zap.String("kind", entry.Kind))
	}
	if err := l.finish(ctx, p, prepared, exec, outcome.Result, outcome.Err); err != nil {
		return stepResult{}, err
	}
	return stepResult{failed: outcome.Err != nil}, nil
}

// call performs the worker call holding the gate permit, restarting a dead
// worker first.
func (l *Loop) call(ctx context.Context, prepared *dispatch.Prepared, release func()) *dispatch.Outcome {
	defer release()

	if l.Worker != nil && !l.Worker.Alive() {
		err := l.Worker.Restart(ctx)
		metrics.RecordWorkerRestart(err == nil)
		if err != nil {
			wrapped := errwrap.Wrap(errwrap.KindWorkerUnavailable, "restart", err, "worker restart failed")
			return &dispatch.Outcome{Prepared: prepared, Err: wrapped, Message: wrapped.Error()}
		}
		logInfo("Worker restarted", zap.Uint64("request_id", prepared.RequestID))
	}

	outcome, _ := l.Dispatcher.Execute(ctx, prepared)
	return outcome
}

// lostInFlight reports whether err leaves it open if the node acted on the
// request. A reply from the node, even an error, settles it.
func lostInFlight(err error) bool {
	switch errwrap.KindOf(err) {
	case errwrap.KindTransientInfra, errwrap.KindWorkerUnavailable:
		return err != nil
	}
	return false
}

func (l *Loop) shouldRetry(op *dispatch.Operation, err error, attempt int) bool {
	if op == nil || !op.Idempotent || !errwrap.KindOf(err).Retryable() {
		return false
	}
	return attempt < l.Config.MaxAttempts
}

// finish publishes the outcome, records it in the ledger and commits the
// entry. The result is durable before the cursor moves; a crash between the
// two redelivers the entry.
func (l *Loop) finish(ctx context.Context, p *queue.Pending, prepared *dispatch.Prepared, exec *core.Execution, result map[string]any, callErr error) error {
	entry := p.Entry
	exec.RunID = l.RunID

	extra := map[string]any{
		"ok":     callErr == nil,
		"kind":   entry.Kind,
		"run_id": l.RunID,
	}
	if exec.Attempts > 0 {
		extra["attempts"] = exec.Attempts
	}
	if prepared != nil {
		extra["method"] = prepared.Operation.Method
	}
	if exec.Status == core.ExecutionUnknown {
		extra["outcome_unknown"] = true
	}

	var content string
	if callErr != nil {
		errorKind := string(errwrap.KindOf(callErr))
		exec.ErrorKind = errorKind
		exec.Message = callErr.Error()
		extra["error_kind"] = errorKind
		if diag := errwrap.DiagnosticsOf(callErr); diag != "" {
			extra["diagnostics"] = diag
		}
		content = failureContent(messageOf(callErr))
	} else {
		content = successContent(result)
	}

	content, truncated := truncate(content, l.Config.MaxContentChars)
	if truncated {
		extra["truncated"] = true
	}

	if err := l.Queue.PublishResult(&queue.Result{
		RequestID: entry.ID,
		Content:   content,
		Extra:     extra,
	}); err != nil {
		return err
	}

	if l.Ledger != nil {
		if err := l.Ledger.RecordExecution(context.WithoutCancel(ctx), exec); err != nil {
			logWarn("Failed to record execution in ledger",
				zap.Uint64("request_id", entry.ID),
				zap.Error(err))
		}
	}

	if err := l.Queue.Commit(p.Next); err != nil {
		return err
	}
	delete(l.attempts, entry.ID)

	metrics.RecordDispatch(entry.Kind, string(exec.Status), exec.ErrorKind, exec.Duration)
	if callErr != nil {
		logWarn("Request failed",
			zap.Uint64("request_id", entry.ID),
			zap.String("kind", entry.Kind),
			zap.String("error_kind", exec.ErrorKind),
			zap.Error(callErr))
	} else {
		logDebug("Request completed",
			zap.Uint64("request_id", entry.ID),
			zap.String("kind", entry.Kind),
			zap.Duration("duration", exec.Duration))
	}
	return nil
}

// persistBackoff saves the backoff state when it changed during the tick.
func (l *Loop) persistBackoff(ctx context.Context) {
	if l.State == nil || l.Admission == nil || l.Admission.Backoff == nil {
		return
	}
	state := l.Admission.Backoff.State()
	if state == l.savedBackoff {
		return
	}
	// Shutdown cancels ctx; the final state is still worth keeping.
	if err := l.State.SaveBackoff(context.WithoutCancel(ctx), l.Queue.Dir(), state); err != nil {
		logWarn("Failed to persist backoff state", zap.Error(err))
		return
	}
	l.savedBackoff = state
}

func (l *Loop) setAttempts(id uint64, n int) {
	if l.attempts == nil {
		l.attempts = make(map[uint64]int)
	}
	l.attempts[id] = n
}

func (l *Loop) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// messageOf prefers the message carried by a classified error over its full
// chain, which repeats the operation name.
func messageOf(err error) string {
	var e *errwrap.Error
	if errors.As(err, &e) && e.Message != "" {
		if e.Err != nil && e.Kind != errwrap.KindToolError {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

func logInfo(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Info(msg, fields...)
	}
}

func logWarn(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Warn(msg, fields...)
	}
}

func logError(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Error(msg, fields...)
	}
}

func logDebug(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Debug(msg, fields...)
	}
}

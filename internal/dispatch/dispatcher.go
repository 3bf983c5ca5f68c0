package dispatch

import (
	"context"

	errwrap "github.com/lnagent/lnagent/internal/errors"
	"github.com/lnagent/lnagent/internal/worker"
)

// Caller performs one call against the worker. *worker.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (*worker.Response, error)
}

// Prepared is a validated request ready for admission.
type Prepared struct {
	RequestID uint64
	Operation *Operation
	Params    map[string]any
}

// Outcome is the normalized result of one dispatched call.
type Outcome struct {
	Prepared *Prepared
	// Result is the decoded tool result, nil when the call itself failed.
	Result map[string]any
	// Err is the classified failure, nil on success.
	Err     error
	Message string
	// ResponseBytes is the size of the raw result or error payload.
	ResponseBytes int
}

// Failed reports whether the outcome is a failure of any kind.
func (o *Outcome) Failed() bool {
	return o.Err != nil
}

// Dispatcher turns operations into exactly one worker call each.
type Dispatcher struct {
	Registry *Registry
	Caller   Caller
}

// Prepare validates a request without calling anything.
func (d *Dispatcher) Prepare(requestID uint64, kind string, args map[string]any) (*Prepared, error) {
	op, params, err := d.Registry.Validate(kind, args)
	if err != nil {
		return nil, err
	}
	if op.Prepare != nil {
		op.Prepare(requestID, params)
	}
	return &Prepared{RequestID: requestID, Operation: op, Params: params}, nil
}

// Execute performs the worker call for a prepared request and normalizes
// the response. The returned error equals Outcome.Err.
func (d *Dispatcher) Execute(ctx context.Context, p *Prepared) (*Outcome, error) {
	method := p.Operation.Method
	outcome := &Outcome{Prepared: p}

	resp, err := d.Caller.Call(ctx, method, p.Params)
	if err != nil {
		outcome.Err = err
		outcome.Message = err.Error()
		return outcome, err
	}
	outcome.ResponseBytes = len(resp.Result) + len(resp.Error)

	if callErr := resp.Err(method); callErr != nil {
		outcome.Err = callErr
		outcome.Message = callErr.Error()
		return outcome, callErr
	}

	result, err := resp.ResultMap()
	if err != nil {
		wrapped := errwrap.Wrap(errwrap.KindWorkerUnavailable, method, worker.ErrMalformedResponse, err.Error())
		outcome.Err = wrapped
		outcome.Message = wrapped.Error()
		return outcome, wrapped
	}
	outcome.Result = result

	if isErr, msg := NormalizeToolError(result); isErr {
		toolErr := errwrap.New(errwrap.KindToolError, method, msg)
		outcome.Err = toolErr
		outcome.Message = msg
		return outcome, toolErr
	}
	return outcome, nil
}

// Dispatch validates and executes in one step.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID uint64, kind string, args map[string]any) (*Outcome, error) {
	p, err := d.Prepare(requestID, kind, args)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, p)
}

// Package errors defines the failure taxonomy shared by the queue, worker,
// dispatcher and control loop, plus helpers that turn any error into a
// gofulmen ErrorEnvelope for structured logging.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
)

// Kind classifies a failure for the admission state machine and for the
// outbound result written back to the producer.
type Kind string

const (
	KindQueueIO           Kind = "QUEUE_IO"
	KindMalformedRecord   Kind = "MALFORMED_RECORD"
	KindWorkerUnavailable Kind = "WORKER_UNAVAILABLE"
	KindToolError         Kind = "TOOL_ERROR"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindTransientInfra    Kind = "TRANSIENT_INFRA"
	KindPermanentInfra    Kind = "PERMANENT_INFRA"
	KindAuthFailure       Kind = "AUTH_FAILURE"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
)

// Retryable reports whether a failure of this kind may succeed if the same
// request is attempted again later.
func (k Kind) Retryable() bool {
	switch k {
	case KindWorkerUnavailable, KindRateLimited, KindTransientInfra:
		return true
	default:
		return false
	}
}

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// RetryAfter is an explicit throttling hint from the far side, zero if none.
	RetryAfter time.Duration

	// Diagnostics holds captured worker stderr, surfaced verbatim.
	Diagnostics string

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "unknown failure"
	}

	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	b.WriteString(msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Diagnostics != "" {
		b.WriteString(" (stderr: ")
		b.WriteString(strings.TrimSpace(e.Diagnostics))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Newf is New with formatting.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// KindOf classifies err. Anything not carrying a Kind (deadlines, raw I/O
// errors) is treated as a transient infrastructure failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if stderrors.As(err, &e) && e != nil && e.Kind != "" {
		return e.Kind
	}
	return KindTransientInfra
}

// RetryAfterOf returns the retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if stderrors.As(err, &e) && e != nil {
		return e.RetryAfter
	}
	return 0
}

// DiagnosticsOf returns captured worker diagnostics carried by err.
func DiagnosticsOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e != nil {
		return e.Diagnostics
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus maps an HTTP-style status code reported by a tool or provider
// onto the taxonomy.
func FromStatus(op string, status int, message string) *Error {
	message = strings.TrimSpace(message)
	switch {
	case status == 401 || status == 403:
		return &Error{Kind: KindAuthFailure, Op: op, Message: orDefault(message, "authentication failed")}
	case status == 429:
		return &Error{Kind: KindRateLimited, Op: op, Message: orDefault(message, "rate limited")}
	case status == 408 || (status >= 500 && status <= 599):
		return &Error{Kind: KindTransientInfra, Op: op, Message: orDefault(message, "service unavailable")}
	case status >= 400 && status <= 499:
		return &Error{Kind: KindPermanentInfra, Op: op, Message: orDefault(message, "request rejected")}
	default:
		return &Error{Kind: KindToolError, Op: op, Message: orDefault(message, "request failed")}
	}
}

// FromCode maps a symbolic error code reported by a tool onto the taxonomy.
// ok is false when the code is not recognised.
func FromCode(op, code, message string) (*Error, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	var kind Kind
	switch normalized {
	case "RATE_LIMITED", "RATE_LIMIT", "TOO_MANY_REQUESTS", "THROTTLED":
		kind = KindRateLimited
	case "TRANSIENT", "TRANSIENT_INFRA", "UNAVAILABLE", "TIMEOUT", "SERVICE_UNAVAILABLE":
		kind = KindTransientInfra
	case "PERMANENT", "PERMANENT_INFRA", "BAD_REQUEST", "INVALID", "VALIDATION_FAILED":
		kind = KindPermanentInfra
	case "AUTH", "AUTH_FAILURE", "UNAUTHORIZED", "FORBIDDEN":
		kind = KindAuthFailure
	case "TOOL_ERROR", "TOOL_FAILURE":
		kind = KindToolError
	default:
		return nil, false
	}
	return &Error{Kind: kind, Op: op, Message: strings.TrimSpace(message)}, true
}

// Envelope normalizes any error into a gofulmen ErrorEnvelope with a
// correlation ID, for structured log output.
func Envelope(err error, correlationID string) *gferrors.ErrorEnvelope {
	if err == nil {
		env := gferrors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected nil error")
		env, _ = env.WithSeverity(gferrors.SeverityCritical)
		return env
	}

	kind := KindOf(err)
	env := gferrors.NewErrorEnvelope(string(kind), err.Error())
	if updated, cerr := env.WithContext(map[string]interface{}{
		"retryable": kind.Retryable(),
	}); cerr == nil {
		env = updated
	}
	severity := gferrors.SeverityMedium
	switch kind {
	case KindAuthFailure, KindPermanentInfra, KindQueueIO:
		severity = gferrors.SeverityHigh
	}
	if updated, serr := env.WithSeverity(severity); serr == nil {
		env = updated
	}

	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return env.WithCorrelationID(correlationID)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

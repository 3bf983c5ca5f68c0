// Package worker speaks the line-delimited JSON protocol used to reach the
// external tool worker: one request object per line on the worker's stdin,
// exactly one response object per line on its stdout.
package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	errwrap "github.com/lnagent/lnagent/internal/errors"
)

var (
	// ErrMalformedResponse marks a response line that is not a JSON object.
	ErrMalformedResponse = errors.New("malformed worker response")
	// ErrCorrelationMismatch marks a response whose id does not match the
	// request in flight. The channel cannot be trusted afterwards.
	ErrCorrelationMismatch = errors.New("worker response id mismatch")
)

// Request is one call sent to the worker.
type Request struct {
	ID     uint64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Response is one reply read from the worker. Exactly one of Result and
// Error is normally set.
type Response struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ErrorObject is the structured error shape a worker may return instead of
// a plain string. Handlers can return it to control how the failure is
// classified on the calling side.
type ErrorObject struct {
	Code       string  `json:"code,omitempty"`
	Status     int     `json:"status,omitempty"`
	Message    string  `json:"message,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (e *ErrorObject) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("status %d", e.Status)
	default:
		return "worker error"
	}
}

// HasError reports whether the response carries a non-null error member.
func (r *Response) HasError() bool {
	trimmed := bytes.TrimSpace(r.Error)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Err classifies the response's error member. A bare string is a tool
// failure; an object is mapped by status, then by code. Nil when the
// response succeeded.
func (r *Response) Err(op string) error {
	if !r.HasError() {
		return nil
	}

	var text string
	if err := json.Unmarshal(r.Error, &text); err == nil {
		return errwrap.New(errwrap.KindToolError, op, orDefault(text, "worker reported an error"))
	}

	obj, ok := decodeErrorObject(r.Error)
	if !ok {
		return errwrap.New(errwrap.KindToolError, op, strings.TrimSpace(string(r.Error)))
	}

	var classified *errwrap.Error
	if obj.Status != 0 {
		classified = errwrap.FromStatus(op, obj.Status, obj.Message)
	} else if mapped, known := errwrap.FromCode(op, obj.Code, obj.Error()); known {
		classified = mapped
	} else {
		classified = errwrap.New(errwrap.KindToolError, op, obj.Error())
	}
	if obj.RetryAfter > 0 && !math.IsInf(obj.RetryAfter, 0) {
		classified.RetryAfter = time.Duration(obj.RetryAfter * float64(time.Second))
	}
	return classified
}

// ResultMap decodes the result member. Numbers are kept as json.Number.
// Non-object results are wrapped as {"value": result}.
func (r *Response) ResultMap() (map[string]any, error) {
	trimmed := bytes.TrimSpace(r.Result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if m, ok := value.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": value}, nil
}

func decodeResponse(line []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedResponse
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &resp, nil
}

func decodeErrorObject(raw json.RawMessage) (*ErrorObject, bool) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, false
	}

	obj := &ErrorObject{}
	switch v := fields["code"].(type) {
	case string:
		obj.Code = v
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 100 && n <= 599 {
			obj.Status = int(n)
		} else {
			obj.Code = v.String()
		}
	}
	for _, key := range []string{"status", "status_code", "http_status"} {
		if n, ok := fields[key].(json.Number); ok {
			if status, err := n.Int64(); err == nil {
				obj.Status = int(status)
				break
			}
		}
	}
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := fields[key].(string); ok && s != "" {
			obj.Message = s
			break
		}
	}
	switch v := fields["retry_after"].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			obj.RetryAfter = f
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			obj.RetryAfter = d.Seconds()
		}
	}
	return obj, true
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Package dispatch maps named operations onto worker calls and normalizes
// what the worker returns.
package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	errwrap "github.com/lnagent/lnagent/internal/errors"
)

// ParamType is the accepted type of an operation argument.
type ParamType string

const (
	TypeInt    ParamType = "int"
	TypeNumber ParamType = "number"
	TypeString ParamType = "string"
	TypeBool   ParamType = "bool"
)

// Param describes one operation argument.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
	// Default is used when an optional argument is absent. Nil leaves it out.
	Default any
}

// Operation is one entry of the dispatch table.
type Operation struct {
	Kind        string
	Method      string
	Description string
	Params      []Param
	// Idempotent operations may be retried after a retryable failure.
	Idempotent bool
	// Prepare fills request-dependent defaults after validation.
	Prepare func(requestID uint64, params map[string]any)
}

// Registry is the table of known operations.
type Registry struct {
	ops map[string]*Operation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Register adds an operation. Kinds are unique.
func (r *Registry) Register(op Operation) error {
	kind := strings.TrimSpace(op.Kind)
	if kind == "" {
		return fmt.Errorf("operation kind is required")
	}
	if op.Method == "" {
		return fmt.Errorf("operation %s: method is required", kind)
	}
	if _, exists := r.ops[kind]; exists {
		return fmt.Errorf("operation %s already registered", kind)
	}
	seen := make(map[string]struct{}, len(op.Params))
	for _, p := range op.Params {
		switch p.Type {
		case TypeInt, TypeNumber, TypeString, TypeBool:
		default:
			return fmt.Errorf("operation %s: param %s has unknown type %q", kind, p.Name, p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("operation %s: duplicate param %s", kind, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	op.Kind = kind
	r.ops[kind] = &op
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(ops ...Operation) *Registry {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the operation registered for kind.
func (r *Registry) Lookup(kind string) (*Operation, bool) {
	op, ok := r.ops[kind]
	return op, ok
}

// Operations lists every operation sorted by kind.
func (r *Registry) Operations() []*Operation {
	out := make([]*Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Validate checks args against the operation's parameters and returns the
// coerced worker params. Failures are INVALID_REQUEST errors.
func (r *Registry) Validate(kind string, args map[string]any) (*Operation, map[string]any, error) {
	const op = "dispatch.validate"

	operation, ok := r.Lookup(kind)
	if !ok {
		return nil, nil, errwrap.Newf(errwrap.KindInvalidRequest, op, "unknown operation kind %q", kind)
	}

	known := make(map[string]Param, len(operation.Params))
	for _, p := range operation.Params {
		known[p.Name] = p
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return nil, nil, errwrap.Newf(errwrap.KindInvalidRequest, op, "%s: unexpected argument %q", kind, name)
		}
	}

	params := make(map[string]any, len(operation.Params))
	for _, p := range operation.Params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, nil, errwrap.Newf(errwrap.KindInvalidRequest, op, "%s: missing required argument %q", kind, p.Name)
			}
			if p.Default != nil {
				params[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p.Type, value)
		if err != nil {
			return nil, nil, errwrap.Newf(errwrap.KindInvalidRequest, op, "%s: argument %q: %v", kind, p.Name, err)
		}
		if s, isString := coerced.(string); isString {
			if token, bad := forbiddenToken(s); bad {
				return nil, nil, errwrap.Newf(errwrap.KindInvalidRequest, op,
					"%s: forbidden content %q in argument %q", kind, token, p.Name)
			}
		}
		params[p.Name] = coerced
	}
	return operation, params, nil
}

func coerce(t ParamType, value any) (any, error) {
	switch t {
	case TypeInt:
		return toInt(value)
	case TypeNumber:
		return toNumber(value)
	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", value)
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case int, int64, uint64:
			return fmt.Sprint(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return nil, fmt.Errorf("unsupported type %q", t)
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %s", v)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", value)
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %s", v)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}

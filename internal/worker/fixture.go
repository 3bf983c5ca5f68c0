package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Fixture is a canned set of tool outputs used to run a deterministic mock
// worker. Every top-level key other than the control keys names a tool; its
// value is returned as the tool result. When the value is a map keyed by
// node number and the call carries a "node" argument, the node's entry is
// returned instead.
type Fixture struct {
	SimulateToolFailure bool
	FailTools           []string
	// FailStatus makes the named tools fail with a structured error of the
	// given HTTP-style status.
	FailStatus map[string]int
	Tools      map[string]any
}

var fixtureControlKeys = map[string]struct{}{
	"simulate_tool_failure": {},
	"fail_tools":            {},
	"fail_status":           {},
}

// LoadFixture reads a fixture document. The format follows the extension:
// .yaml/.yml, .toml, anything else is JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture load failed (%s): %w", path, err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("fixture parse failed (%s): %w", path, err)
	}

	return parseFixture(raw)
}

func parseFixture(raw map[string]any) (*Fixture, error) {
	fx := &Fixture{Tools: map[string]any{}, FailStatus: map[string]int{}}

	if v, ok := raw["simulate_tool_failure"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, fmt.Errorf("simulate_tool_failure must be a boolean")
		}
		fx.SimulateToolFailure = b
	}
	if v, ok := raw["fail_tools"]; ok {
		list, isList := v.([]any)
		if !isList {
			return nil, fmt.Errorf("fail_tools must be a list")
		}
		for _, item := range list {
			fx.FailTools = append(fx.FailTools, fmt.Sprint(item))
		}
	}
	if v, ok := raw["fail_status"]; ok {
		statuses, isMap := normalizeValue(v).(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("fail_status must be a table of tool to status")
		}
		for tool, status := range statuses {
			code, err := toInt(status)
			if err != nil {
				return nil, fmt.Errorf("fail_status.%s: %w", tool, err)
			}
			fx.FailStatus[tool] = code
		}
	}

	for key, value := range raw {
		if _, control := fixtureControlKeys[key]; control {
			continue
		}
		fx.Tools[key] = normalizeValue(value)
	}
	return fx, nil
}

// ToolNames lists the tools the fixture defines, sorted.
func (f *Fixture) ToolNames() []string {
	names := make([]string, 0, len(f.Tools))
	for name := range f.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register installs ping plus one handler per fixture tool on s.
func (f *Fixture) Register(s *Server) *Server {
	s.Register("ping", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"ok": true, "pong": true, "server": s.Name()}, nil
	})
	for _, name := range f.ToolNames() {
		s.Register(name, f.handler(name))
	}
	return s
}

func (f *Fixture) handler(name string) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		if status, ok := f.FailStatus[name]; ok {
			return nil, &ErrorObject{Status: status, Message: "simulated failure: " + name}
		}
		if f.failing(name) {
			out := map[string]any{"error": "ToolFailure: " + name}
			if node, ok := params["node"]; ok {
				out["node"] = node
			}
			return out, nil
		}

		value := f.Tools[name]
		node, hasNode := params["node"]
		byNode, isMap := value.(map[string]any)
		if !hasNode || !isMap {
			return value, nil
		}
		entry, ok := byNode[fmt.Sprint(node)]
		if !ok {
			return nil, fmt.Errorf("no fixture for %s node %v", name, node)
		}
		return entry, nil
	}
}

func (f *Fixture) failing(name string) bool {
	if !f.SimulateToolFailure {
		return false
	}
	for _, tool := range f.FailTools {
		if tool == name {
			return true
		}
	}
	return false
}

// FixtureServer builds a mock worker from a fixture file.
func FixtureServer(name, path string) (*Server, error) {
	fx, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return fx.Register(NewServer(name)), nil
}

// normalizeValue rewrites YAML maps with non-string keys so every nested map
// is a map[string]any.
func normalizeValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("status must be an integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("status must be an integer, got %T", v)
	}
}

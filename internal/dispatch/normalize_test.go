package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeToolError(t *testing.T) {
	cases := []struct {
		name    string
		input   map[string]any
		isError bool
		message string
	}{
		{name: "bare error", input: map[string]any{"error": "x"}, isError: true, message: "x"},
		{name: "ok false with error", input: map[string]any{"ok": false, "error": "y"}, isError: true, message: "y"},
		{name: "nested error", input: map[string]any{"result": map[string]any{"error": "z"}}, isError: true, message: "z"},
		{name: "nested ok false", input: map[string]any{"result": map[string]any{"ok": false}}, isError: true, message: "tool returned ok=false"},
		{name: "top-level wins", input: map[string]any{"error": "top", "result": map[string]any{"error": "inner"}}, isError: true, message: "top"},
		{name: "ok false beats nested", input: map[string]any{"ok": false, "result": map[string]any{"error": "inner"}}, isError: true, message: "tool returned ok=false"},
		{name: "blank error ignored", input: map[string]any{"error": "   ", "ok": true}},
		{name: "error trimmed", input: map[string]any{"error": "  boom \n"}, isError: true, message: "boom"},
		{name: "non-string error with ok false", input: map[string]any{"ok": false, "error": map[string]any{"code": 5}}, isError: true, message: "map[code:5]"},
		{name: "success", input: map[string]any{"ok": true, "payload": map[string]any{}}},
		{name: "result not an object", input: map[string]any{"result": "error"}},
		{name: "nil", input: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isError, message := NormalizeToolError(tc.input)
			assert.Equal(t, tc.isError, isError)
			assert.Equal(t, tc.message, message)
		})
	}
}

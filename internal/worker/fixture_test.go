package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const jsonFixture = `{
  "simulate_tool_failure": true,
  "fail_tools": ["ln_listfunds"],
  "fail_status": {"btc_sendtoaddress": 429},
  "network_health": {"status": "ok", "nodes": 2},
  "ln_getinfo": {"1": {"alias": "alice"}, "2": {"alias": "bob"}},
  "ln_listfunds": {"1": {"outputs": []}}
}`

const yamlFixture = `
network_health:
  status: degraded
ln_getinfo:
  1:
    alias: alice
`

const tomlFixture = `
simulate_tool_failure = false
fail_tools = ["network_health"]

[network_health]
status = "ok"

[ln_getinfo.1]
alias = "alice"
`

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func call(t *testing.T, srv *Server, method string, params map[string]any) *Response {
	t.Helper()
	line, err := json.Marshal(Request{ID: 1, Method: method, Params: params})
	require.NoError(t, err)
	return srv.Handle(context.Background(), line)
}

func TestFixtureServerJSON(t *testing.T) {
	srv, err := FixtureServer("mock-ln-tools", writeFixture(t, "healthy.json", jsonFixture))
	require.NoError(t, err)
	require.Equal(t, []string{"ln_getinfo", "ln_listfunds", "network_health", "ping"}, srv.Tools())

	resp := call(t, srv, "ping", nil)
	m, err := resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, true, m["pong"])

	resp = call(t, srv, "ln_getinfo", map[string]any{"node": 2})
	m, err = resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "bob", m["alias"])

	resp = call(t, srv, "ln_getinfo", map[string]any{"node": 9})
	require.True(t, resp.HasError())

	resp = call(t, srv, "ln_listfunds", map[string]any{"node": 1})
	require.False(t, resp.HasError())
	m, err = resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "ToolFailure: ln_listfunds", m["error"])

	resp = call(t, srv, "network_health", nil)
	m, err = resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "ok", m["status"])
}

func TestFixtureFailStatus(t *testing.T) {
	srv, err := FixtureServer("mock", writeFixture(t, "f.json", jsonFixture))
	require.NoError(t, err)

	// Tools only named in fail_status are not registered.
	resp := call(t, srv, "btc_sendtoaddress", nil)
	require.Contains(t, string(resp.Error), "Unknown method")

	fx, err := LoadFixture(writeFixture(t, "f.json", jsonFixture))
	require.NoError(t, err)
	fx.Tools["btc_sendtoaddress"] = map[string]any{"txid": "00"}
	srv = fx.Register(NewServer("mock"))

	resp = call(t, srv, "btc_sendtoaddress", nil)
	require.True(t, resp.HasError())
	var obj ErrorObject
	require.NoError(t, json.Unmarshal(resp.Error, &obj))
	require.Equal(t, 429, obj.Status)
}

func TestFixtureServerYAML(t *testing.T) {
	srv, err := FixtureServer("mock", writeFixture(t, "degraded.yaml", yamlFixture))
	require.NoError(t, err)

	resp := call(t, srv, "ln_getinfo", map[string]any{"node": 1})
	m, err := resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "alice", m["alias"])

	resp = call(t, srv, "network_health", nil)
	m, err = resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "degraded", m["status"])
}

func TestFixtureServerTOML(t *testing.T) {
	srv, err := FixtureServer("mock", writeFixture(t, "fixture.toml", tomlFixture))
	require.NoError(t, err)

	resp := call(t, srv, "ln_getinfo", map[string]any{"node": 1})
	m, err := resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "alice", m["alias"])

	// Failure simulation is off, so fail_tools has no effect.
	resp = call(t, srv, "network_health", nil)
	m, err = resp.ResultMap()
	require.NoError(t, err)
	require.Equal(t, "ok", m["status"])
}

func TestLoadFixtureErrors(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadFixture(writeFixture(t, "bad.json", `{"simulate_tool_failure":"yes"}`))
	require.Error(t, err)

	_, err = LoadFixture(writeFixture(t, "bad2.json", `{"fail_status":{"x":1.5}}`))
	require.Error(t, err)
}

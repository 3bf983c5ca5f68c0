package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
network_health:
  status: ok
  nodes: 2
ln_getinfo:
  1:
    alias: alice
  2:
    alias: bob
`

// buildBinary compiles the CLI and copies it outside the repository so the
// tests exercise the standalone binary.
func buildBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}

	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	goModPath := strings.TrimSpace(string(goModPathBytes))
	require.NotEmpty(t, goModPath, "go env GOMOD returned empty")
	repoRoot := filepath.Dir(goModPath)

	binaryPath := filepath.Join(t.TempDir(), "lnagent")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/lnagent")
	build.Dir = repoRoot
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)

	copied := filepath.Join(t.TempDir(), "lnagent")
	data, err := os.ReadFile(binaryPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(copied, data, 0o755))
	return copied
}

// syncBuffer collects a child's stderr while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t      *testing.T
	binary string
	dir    string
	env    []string
}

func newHarness(t *testing.T) *harness {
	binary := buildBinary(t)
	root := t.TempDir()
	fixture := filepath.Join(root, "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(fixtureYAML), 0o644))

	env := append(os.Environ(),
		"XDG_CONFIG_HOME="+filepath.Join(root, "config"),
		"XDG_DATA_HOME="+filepath.Join(root, "data"),
		"LNAGENT_QUEUE_DIR="+filepath.Join(root, "queue"),
		"LNAGENT_STORE_DRIVER=sqlite",
		"LNAGENT_STORE_PATH="+filepath.Join(root, "ledger.db"),
		"LNAGENT_WORKER_COMMAND="+binary,
		"LNAGENT_WORKER_ARGS=worker,--fixture,"+fixture,
		"LNAGENT_SCHEDULER_TICK=50ms",
		"LNAGENT_LIMITS_MIN_INTERVAL=0s",
	)
	return &harness{t: t, binary: binary, dir: root, env: env}
}

func (h *harness) command(args ...string) *exec.Cmd {
	cmd := exec.Command(h.binary, args...)
	cmd.Dir = h.dir
	cmd.Env = h.env
	return cmd
}

func (h *harness) run(args ...string) string {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := h.command(args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(h.t, cmd.Run(), "%s failed:\n%s", strings.Join(args, " "), stderr.String())
	return stdout.String()
}

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.run("version"), "lnagent")
	assert.Contains(t, h.run("--help"), "enqueue")
	assert.Contains(t, h.run("ops"), "ln_getinfo")
}

func TestAgentDrainsQueueEndToEnd(t *testing.T) {
	h := newHarness(t)

	ids := []string{
		strings.TrimSpace(h.run("enqueue", "ping")),
		strings.TrimSpace(h.run("enqueue", "health_check")),
		strings.TrimSpace(h.run("enqueue", "ln_getinfo", "--arg", "node=2")),
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	agentErr := &syncBuffer{}
	agent := h.command("run")
	agent.Stderr = agentErr
	require.NoError(t, agent.Start())
	exited := make(chan error, 1)
	go func() { exited <- agent.Wait() }()
	t.Cleanup(func() { _ = agent.Process.Kill() })

	var results []map[string]any
	require.Eventually(t, func() bool {
		out := h.run("last", "-n", "10", "-o", "json")
		if strings.TrimSpace(out) == "" {
			return false
		}
		results = nil
		if err := json.Unmarshal([]byte(out), &results); err != nil {
			return false
		}
		return len(results) == 3
	}, 20*time.Second, 100*time.Millisecond, "agent never published three results")

	for i, r := range results {
		assert.Equal(t, float64(i+1), r["request_id"])
		extra, _ := r["extra"].(map[string]any)
		assert.Equal(t, true, extra["ok"], "result %d: %v", i+1, r)
	}
	assert.Contains(t, results[2]["content"], "bob")

	// A second agent on the same queue is refused while the first holds the lock.
	second := h.command("run")
	out, err := second.CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(out), "locked")

	require.NoError(t, agent.Process.Signal(syscall.SIGTERM))
	select {
	case <-exited:
	case <-time.After(15 * time.Second):
		t.Fatalf("agent did not stop after SIGTERM:\n%s", agentErr.String())
	}

	var history []map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.run("history", "-o", "json")), &history))
	require.Len(t, history, 3)
	for _, row := range history {
		assert.Equal(t, "ok", row["status"])
	}

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.run("status", "-o", "json")), &status))
	assert.Equal(t, float64(0), status["pending"])
	assert.Equal(t, status["size_bytes"], status["cursor"])
	assert.Equal(t, float64(3), status["results"])
	assert.Empty(t, status["lock_holder"])
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	h := newHarness(t)

	cmd := h.command("enqueue", "ln_teleport")
	out, err := cmd.CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(out), "unknown operation kind")

	// --force skips the registry; the agent reports the failure instead.
	id := strings.TrimSpace(h.run("enqueue", "ln_teleport", "--force"))
	_, err = strconv.ParseUint(id, 10, 64)
	require.NoError(t, err)
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/baton/internal/config"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/internal/workflow"
	"github.com/ShayCichocki/baton/pkg/models"
)

// testEnv isolates config lookup and the session store in temp dirs.
type testEnv struct {
	configPath string
	storeDir   string
	dir        string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Chdir(dir)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: error\n"), 0644))
	return &testEnv{configPath: configPath, storeDir: filepath.Join(dir, "store"), dir: dir}
}

func (te *testEnv) script(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(te.dir, "script-"+strings.ReplaceAll(t.Name(), "/", "_")+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (te *testEnv) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", te.configPath, "--store-dir", te.storeDir}, args...))
	err := root.Execute()
	return out.String(), err
}

var sessionLine = regexp.MustCompile(`Session:\s+(\S+)`)

func sessionIDFrom(t *testing.T, output string) string {
	t.Helper()
	m := sessionLine.FindStringSubmatch(output)
	require.Len(t, m, 2, "no session id in output:\n%s", output)
	return m[1]
}

func TestRunCompletesWithScript(t *testing.T) {
	te := newTestEnv(t)
	script := te.script(t, `
agents:
  Coder: ["Implemented the calculator. [NEXT_AGENT: QA_Guardian]"]
fallback: "Looks good. [COMPLETE]"
`)

	out, err := te.exec(t, "run", "--script", script, "--start-agent", "coder", "Create", "a", "simple", "calculator", "with", "basic", "operations")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow completed")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "QA_Guardian")
	id := sessionIDFrom(t, out)

	out, err = te.exec(t, "sessions", "show", id, "--json")
	require.NoError(t, err)
	var sess models.WorkflowSession
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.Equal(t, models.SessionCompleted, sess.State)
	assert.Equal(t, "Create a simple calculator with basic operations", sess.Metadata[workflow.MetaRequest])
	assert.Len(t, sess.HandoffPackets, 2)

	_, err = te.exec(t, "resume", id, "--script", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not resumable")
}

func TestRunCapThenResume(t *testing.T) {
	te := newTestEnv(t)
	retry := te.script(t, `fallback: "Still going. [RETRY]"`)

	out, err := te.exec(t, "run", "--script", retry, "--start-agent", "coder", "--max-iterations", "2", "refactor the parser")
	require.NoError(t, err)
	assert.Contains(t, out, "iteration cap")
	id := sessionIDFrom(t, out)

	out, err = te.exec(t, "sessions", "list", "--resumable")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	done := te.script(t, `fallback: "Finished. [COMPLETE]"`)
	out, err = te.exec(t, "resume", id, "--script", done)
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow completed")

	out, err = te.exec(t, "stats", "--json")
	require.NoError(t, err)
	var st state.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(1), st.SessionsCreated)
	assert.Equal(t, int64(1), st.SessionsResumed)
	assert.Equal(t, int64(1), st.WorkflowsCompleted)
}

func TestRunErrorExitsNonZero(t *testing.T) {
	te := newTestEnv(t)
	script := te.script(t, `sequence: []`)

	out, err := te.exec(t, "run", "--script", script, "--start-agent", "coder", "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "ERROR")
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	te := newTestEnv(t)
	script := te.script(t, `fallback: "[COMPLETE]"`)
	metricsPath := filepath.Join(te.dir, "baton.prom")

	_, err := te.exec(t, "run", "--script", script, "--metrics-textfile", metricsPath, "write docs")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "baton_runs_total")
	assert.Contains(t, string(data), "baton_store_sessions_created")
}

func TestRunRejectsUnknownStartAgent(t *testing.T) {
	te := newTestEnv(t)
	script := te.script(t, `fallback: "[COMPLETE]"`)

	_, err := te.exec(t, "run", "--script", script, "--start-agent", "janitor", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestRunWithoutKeyOrScript(t *testing.T) {
	te := newTestEnv(t)

	_, err := te.exec(t, "run", "build it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--script")
}

func TestRunRejectsMalformedAPIKey(t *testing.T) {
	te := newTestEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-proj-not-an-anthropic-key")

	_, err := te.exec(t, "run", "build it")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMalformedAPIKey)
	assert.Contains(t, err.Error(), "environment")
}

func TestRunHelpExamplesUseRosterAgents(t *testing.T) {
	example := regexp.MustCompile(`--start-agent (\S+)`)
	matches := example.FindAllStringSubmatch(newRunCmd(&rootOptions{}).Long, -1)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		_, err := parseAgentFlag("start-agent", m[1])
		assert.NoError(t, err, "help example names %q", m[1])
	}
}

func TestAnalyze(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.exec(t, "analyze", "--hint", "project_type=simple_script", "--hint", "complexity=simple", "write a small script")
	require.NoError(t, err)
	assert.Contains(t, out, "Project type: simple_script")
	assert.Contains(t, out, "Complexity:   simple")
	assert.Contains(t, out, "Coder")
	assert.Contains(t, out, "SKIP")
}

func TestSessionsPauseAndCleanup(t *testing.T) {
	te := newTestEnv(t)

	store, err := state.OpenStore(te.storeDir, state.DriverSQLite, state.Options{})
	require.NoError(t, err)
	id, err := store.CreateSession("manual", models.AgentCoder, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := te.exec(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = te.exec(t, "sessions", "pause", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Paused "+id)

	_, err = te.exec(t, "sessions", "pause", id)
	require.Error(t, err)

	out, err = te.exec(t, "sessions", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "PAUSED")

	out, err = te.exec(t, "sessions", "cleanup", "--max-age-days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 session(s)")

	_, err = te.exec(t, "sessions", "show", "missing")
	require.Error(t, err)
}

func TestConfigShowAndInit(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.exec(t, "config", "show", "workflow.max_iterations")
	require.NoError(t, err)
	assert.Equal(t, "15\n", out)

	out, err = te.exec(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "llm.api_key: (not set)")
	assert.Contains(t, out, "store.driver: sqlite")

	_, err = te.exec(t, "config", "show", "no.such.key")
	require.Error(t, err)

	out, err = te.exec(t, "config", "init", "--project")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	_, err = os.Stat(filepath.Join(te.dir, ".baton.yaml"))
	require.NoError(t, err)

	out, err = te.exec(t, "config", "init", "--project")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestVersion(t *testing.T) {
	te := newTestEnv(t)
	out, err := te.exec(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "baton version "))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "-", formatAge(0, time.Now()))
	assert.Equal(t, "2d", formatAge(float64(time.Now().Add(-49*time.Hour).Unix()), time.Now()))
}

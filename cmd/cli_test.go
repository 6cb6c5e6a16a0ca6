package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/testutil"
	"github.com/bnema/clawstat/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotFixture = `{
  "updatedAt": "2024-01-01T12:00:00Z",
  "health": {"ok": true},
  "status": {},
  "presence": [],
  "usage": null,
  "cost": {},
  "sessions": {},
  "taskMap": {
    "ops": {"task": "Deploy the release", "lastMsg": "Deployed.", "status": "responded", "sessionKey": "agent:ops:main"}
  },
  "chatHistory": {
    "ops": [
      {"role": "user", "content": "Deploy the release", "timestamp": 1704067200000},
      {"role": "assistant", "content": "Deployed.", "timestamp": 1704067260000}
    ]
  },
  "rateLimitEvents": {}
}`

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", stdout)
}

func TestStatusRendersSnapshotFile(t *testing.T) {
	home := t.TempDir()
	path := writeSnapshotFixture(t, home)

	stdout, _, err := executeCLI(t, home, "status", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OpenClaw Gateway Status")
	assert.Contains(t, stdout, "missing calls: 1")
	assert.Contains(t, stdout, "ops")
	assert.Contains(t, stdout, "task: Deploy the release")
	assert.Contains(t, stdout, "[stale]")
}

func TestStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	path := writeSnapshotFixture(t, home)

	stdout, _, err := executeCLI(t, home, "status", "--file", path, "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"sessionKey\": \"agent:ops:main\"")
}

func TestStatusWithoutSnapshotFails(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "status", "--file", filepath.Join(home, "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestCollectWithoutTokenFailsBeforeDialing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPENCLAW_GW_TOKEN", "")
	gateway := testutil.NewFakeGateway(t, "secret")

	_, _, err := executeCLI(t, home, "collect",
		"--gateway", gateway.URL(),
		"--output", filepath.Join(home, "status.json"),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, gateway.Handshakes())
	assert.NoFileExists(t, filepath.Join(home, "status.json"))
}

func TestCollectWritesSnapshotAndRecordsRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GCS_BUCKET", "")
	gateway := newCollectGateway(t)
	output := filepath.Join(home, "out", "status.json")
	db := filepath.Join(home, "runs.db")

	stdout, _, err := executeCLI(t, home, "collect",
		"--gateway", gateway.URL(),
		"--token", "secret",
		"--output", output,
		"--log-dir", filepath.Join(home, "logs"),
		"--history-db", db,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Collected → "+output)
	assert.Contains(t, stdout, "Upload skipped")
	require.Len(t, gateway.Handshakes(), 1)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var snapshot domain.Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "Fix the build", snapshot.TaskMap["ops"].Task)
	assert.Equal(t, domain.SessionResponded, snapshot.TaskMap["ops"].Status)
	assert.Len(t, snapshot.ChatHistory["ops"], 2)

	stdout, _, err = executeCLI(t, home, "history", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OUTCOME")
	assert.Contains(t, stdout, "ok")
}

func TestCollectReadsTokenFromOpenClawConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPENCLAW_GW_TOKEN", "")
	gateway := newCollectGateway(t)

	configPath := filepath.Join(home, ".openclaw", "openclaw.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o700))
	require.NoError(t, os.WriteFile(configPath, []byte(`{
  // written by openclaw
  "gateway": {"auth": {"token": "secret"}},
}`), 0o600))

	_, _, err := executeCLI(t, home, "collect",
		"--gateway", gateway.URL(),
		"--openclaw-config", configPath,
		"--output", filepath.Join(home, "status.json"),
		"--log-dir", filepath.Join(home, "logs"),
	)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(home, "status.json"))
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "history")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRulesInitThenList(t *testing.T) {
	home := t.TempDir()
	rulesPath := filepath.Join(home, "rules.toml")

	stdout, _, err := executeCLI(t, home, "rules", "init", "--rules", rulesPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, rulesPath)
	assert.FileExists(t, rulesPath)

	_, _, err = executeCLI(t, home, "rules", "init", "--rules", rulesPath)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	stdout, _, err = executeCLI(t, home, "rules", "list", "--rules", rulesPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "anthropic")
	assert.Contains(t, stdout, "google")
	assert.Contains(t, stdout, "5h0m0s")
}

func TestInvalidLogLevelIsConfigurationError(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "--log-level", "loud", "version")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestConfigFileSuppliesDefaults(t *testing.T) {
	home := t.TempDir()
	path := writeSnapshotFixture(t, home)

	configDir := filepath.Join(home, ".config", "clawstat")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("[output]\npath = \""+path+"\"\n"), 0o600))

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "task: Deploy the release")
}

func newCollectGateway(t *testing.T) *testutil.FakeGateway {
	t.Helper()

	gateway := testutil.NewFakeGateway(t, "secret")
	gateway.Reply("health", map[string]any{"ok": true})
	gateway.Reply("status", map[string]any{
		"sessions": map[string]any{
			"byAgent": []any{
				map[string]any{"agentId": "ops", "recent": []any{map[string]any{"key": "agent:ops:main"}}},
			},
		},
	})
	gateway.Reply("system-presence", []any{})
	gateway.Reply("usage.status", map[string]any{"providers": []any{}})
	gateway.Reply("usage.cost", map[string]any{"total": 0})
	gateway.Reply("sessions.list", map[string]any{"sessions": []any{}})
	gateway.Handle("chat.history", func(params json.RawMessage) (any, string) {
		var req struct {
			SessionKey string `json:"sessionKey"`
		}
		if err := json.Unmarshal(params, &req); err != nil || req.SessionKey != "agent:ops:main" {
			return nil, "unknown session"
		}
		return map[string]any{"messages": []any{
			map[string]any{"role": "user", "content": "Fix the build", "timestamp": 1704067200000},
			map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "Fixed."}}, "timestamp": 1704067260000},
		}}, ""
	})
	return gateway
}

func writeSnapshotFixture(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "status.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshotFixture), 0o644))
	return path
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSummaries(t *testing.T) {
	s := Snapshot{
		Health: json.RawMessage(`{"ok":true}`),
		Status: json.RawMessage(`null`),
		TaskMap: map[string]TaskSummary{
			"ops": {Task: "deploy"},
		},
		ChatHistory: map[string][]ChatMessage{
			"qa":  {{Role: "user", Content: "hi"}},
			"ops": {},
		},
		RateLimitEvents: map[string]RateLimitEvent{
			"google":    {InCooldown: true},
			"anthropic": {InCooldown: true},
			"openai":    {InCooldown: false},
		},
	}

	assert.Equal(t, 5, s.MissingCalls())
	assert.Equal(t, []string{"ops", "qa"}, s.AgentIDs())
	assert.Equal(t, []string{"anthropic", "google"}, s.CooldownProviders())
}

func TestSnapshotStaleness(t *testing.T) {
	updated := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{UpdatedAt: updated}

	assert.False(t, s.IsStale(updated.Add(5*time.Minute), 10*time.Minute))
	assert.True(t, s.IsStale(updated.Add(11*time.Minute), 10*time.Minute))
	assert.False(t, s.IsStale(updated.Add(24*time.Hour), 0))
	assert.True(t, Snapshot{}.IsStale(updated, time.Hour))
}

func TestSnapshotJSONShape(t *testing.T) {
	s := Snapshot{
		UpdatedAt:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		TaskMap:         map[string]TaskSummary{},
		ChatHistory:     map[string][]ChatMessage{},
		RateLimitEvents: map[string]RateLimitEvent{},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"updatedAt", "health", "status", "presence", "usage", "cost", "sessions", "taskMap", "chatHistory", "rateLimitEvents"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "null", string(fields["usage"]))
	assert.Equal(t, "{}", string(fields["rateLimitEvents"]))
}

func TestRunRecordDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3*time.Second, RunRecord{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}.Duration())
	assert.Zero(t, RunRecord{StartedAt: start}.Duration())
}

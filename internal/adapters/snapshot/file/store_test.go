package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() domain.Snapshot {
	ts := int64(1704067200000)
	return domain.Snapshot{
		UpdatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Health:    json.RawMessage(`{"ok":true}`),
		TaskMap: map[string]domain.TaskSummary{
			"ops": {Task: "deploy", LastMsg: "done", Status: domain.SessionResponded, SessionKey: "agent:ops:main"},
		},
		ChatHistory: map[string][]domain.ChatMessage{
			"ops": {{Role: "user", Content: "deploy", Timestamp: &ts}},
		},
		RateLimitEvents: map[string]domain.RateLimitEvent{
			"anthropic": {
				LastAt:           time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
				EstimatedResetAt: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC),
				InCooldown:       true,
			},
		},
	}
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "status.json")
	store, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	snapshot := sampleSnapshot()
	require.NoError(t, store.Save(context.Background(), snapshot))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.UpdatedAt, loaded.UpdatedAt)
	assert.Equal(t, snapshot.TaskMap, loaded.TaskMap)
	assert.Equal(t, snapshot.ChatHistory, loaded.ChatHistory)
	assert.Equal(t, snapshot.RateLimitEvents, loaded.RateLimitEvents)
	assert.Nil(t, loaded.Usage)
	assert.JSONEq(t, string(snapshot.Health), string(loaded.Health))
	assert.Equal(t, snapshot.MissingCalls(), loaded.MissingCalls())
}

func TestStoreWritesCompactJSONWithoutLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "status.json"))
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))
	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status.json", entries[0].Name())

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n")
	assert.Contains(t, string(data), `"usage":null`)
	assert.Contains(t, string(data), `"lastAt":1704103200000`)
}

func TestStoreLoadMissingSnapshot(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestStoreSaveHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Save(ctx, sampleSnapshot()), context.Canceled)
	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

package toml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, path string) *RuleRepository {
	t.Helper()

	config := viper.New()
	config.Set(RulesPathKey, path)

	repo, err := NewRuleRepository(config)
	require.NoError(t, err)
	return repo
}

func TestRuleRepositoryDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "rules.toml"))

	rules, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultProviderRules(), rules)
}

func TestRuleRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "rules.toml")
	repo := newTestRepository(t, path)

	rules := []domain.ProviderRule{
		{Provider: "anthropic", Patterns: []string{"provider anthropic is in cooldown"}, ResetWindow: 5 * time.Hour, CatchGeneric: true},
		{Provider: "openai", Patterns: []string{"provider openai", "openai/gpt"}, ResetWindow: 90 * time.Minute},
	}
	require.NoError(t, repo.Save(context.Background(), rules))

	got, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rules, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(rulesFileMode), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "reset_window")
	assert.Contains(t, string(data), "1h30m0s")
}

func TestRuleRepositoryReadsHandWrittenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[providers]]
name = "google"
patterns = ["provider google"]
reset_window = "1h"
`), 0o600))

	rules, err := newTestRepository(t, path).List(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "google", rules[0].Provider)
	assert.Equal(t, time.Hour, rules[0].ResetWindow)
	assert.False(t, rules[0].CatchGeneric)
}

func TestRuleRepositoryRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "future version", content: "version = 9\n", errText: "unsupported rules schema version 9"},
		{name: "bad duration", content: "[[providers]]\nname = \"x\"\npatterns = [\"x\"]\nreset_window = \"soon\"\n", errText: "reset_window"},
		{name: "missing patterns", content: "[[providers]]\nname = \"x\"\nreset_window = \"1h\"\n", errText: "no patterns"},
		{name: "negative window", content: "[[providers]]\nname = \"x\"\npatterns = [\"x\"]\nreset_window = \"-1h\"\n", errText: "must be positive"},
		{name: "not toml", content: "providers = [", errText: "decode rules file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "rules.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := newTestRepository(t, path).List(context.Background())
			require.ErrorIs(t, err, domain.ErrConfiguration)
			assert.ErrorContains(t, err, tt.errText)
		})
	}
}

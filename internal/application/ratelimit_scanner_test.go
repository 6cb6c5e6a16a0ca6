package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDaysCoversTodayAndYesterday(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600))
	days := ScanDays(now)

	require.Len(t, days, 2)
	assert.Equal(t, "2024-02-29", days[0].Format(time.DateOnly))
	assert.Equal(t, "2024-02-28", days[1].Format(time.DateOnly))
}

func TestRateLimitScannerKeepsLatestEventAcrossDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	logs := memoryLogSource{files: map[string]string{
		"2024-01-01": `{"time":"2024-01-01T22:00:00Z","0":"gateway","1":"no available auth profile for google"}` + "\n" +
			`{"time":"2024-01-01T23:30:00Z","1":"FailoverError: rate limit exceeded upstream"}` + "\n",
		"2024-01-02": `{"time":"2024-01-02T00:15:00Z","1":"provider google in cooldown"}` + "\n" +
			"plain line without any timestamp mentioning cooldown\n",
	}}

	scanner := NewRateLimitScanner(logs, nil, nil)
	events, err := scanner.Scan(context.Background(), now)
	require.NoError(t, err)

	require.Contains(t, events, "google")
	assert.Equal(t, time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC), events["google"].LastAt)
	assert.Equal(t, time.Date(2024, 1, 2, 1, 15, 0, 0, time.UTC), events["google"].EstimatedResetAt)
	assert.True(t, events["google"].InCooldown)

	require.Contains(t, events, "anthropic")
	assert.Equal(t, time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC), events["anthropic"].LastAt)
	assert.True(t, events["anthropic"].InCooldown)
}

func TestRateLimitScannerSkipsMissingAndUnreadableLogs(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	logs := memoryLogSource{
		errs: map[string]error{"2024-01-02": errors.New("permission denied")},
	}

	scanner := NewRateLimitScanner(logs, nil, nil)
	events, err := scanner.Scan(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRateLimitScannerUsesCustomRules(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	logs := memoryLogSource{files: map[string]string{
		"2024-01-01": `{"time":"2024-01-01T11:00:00Z","1":"provider openai is in cooldown"}` + "\n",
	}}
	rules := []domain.ProviderRule{{
		Provider:    "OpenAI",
		Patterns:    []string{"Provider OpenAI"},
		ResetWindow: 30 * time.Minute,
	}}

	scanner := NewRateLimitScanner(logs, rules, nil)
	events, err := scanner.Scan(context.Background(), now)
	require.NoError(t, err)

	require.Contains(t, events, "openai")
	assert.False(t, events["openai"].InCooldown)
	assert.NotContains(t, events, "anthropic")
}

func TestRateLimitScannerStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewRateLimitScanner(memoryLogSource{}, nil, nil)
	_, err := scanner.Scan(ctx, time.Now())

	require.ErrorIs(t, err, context.Canceled)
}

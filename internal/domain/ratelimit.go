package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// ProviderRule describes how cooldown events of one upstream provider show
// up in gateway logs.
type ProviderRule struct {
	Provider    string
	Patterns    []string
	ResetWindow time.Duration
	// CatchGeneric attributes provider-less rate limit lines to this rule.
	CatchGeneric bool
}

// DefaultProviderRules: Anthropic resets on a 5h rolling window, Google
// on 1h.
func DefaultProviderRules() []ProviderRule {
	return []ProviderRule{
		{
			Provider: "anthropic",
			Patterns: []string{
				"provider anthropic is in cooldown",
				"anthropic/claude",
			},
			ResetWindow:  5 * time.Hour,
			CatchGeneric: true,
		},
		{
			Provider: "google",
			Patterns: []string{
				"no available auth profile for google",
				"provider google",
				"google/gemini",
			},
			ResetWindow: time.Hour,
		},
	}
}

var (
	baseLogKeywords = []string{"cooldown", "rate_limit", "rate limit", "overload", "google/gemini"}
	genericPatterns = []string{"api rate limit reached", "failovererror"}

	timeFieldPattern = regexp.MustCompile(`"time":"([^"]+)"`)
)

type RateLimitEvent struct {
	LastAt           time.Time
	EstimatedResetAt time.Time
	InCooldown       bool
}

type rateLimitEventJSON struct {
	LastAt           int64 `json:"lastAt"`
	EstimatedResetAt int64 `json:"estimatedResetAt"`
	InCooldown       bool  `json:"inCooldown"`
}

func (e RateLimitEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(rateLimitEventJSON{
		LastAt:           e.LastAt.UnixMilli(),
		EstimatedResetAt: e.EstimatedResetAt.UnixMilli(),
		InCooldown:       e.InCooldown,
	})
}

func (e *RateLimitEvent) UnmarshalJSON(data []byte) error {
	var raw rateLimitEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = RateLimitEvent{
		LastAt:           time.UnixMilli(raw.LastAt).UTC(),
		EstimatedResetAt: time.UnixMilli(raw.EstimatedResetAt).UTC(),
		InCooldown:       raw.InCooldown,
	}
	return nil
}

// RateLimitDetector folds gateway log lines into the latest cooldown event
// per provider. It is a heuristic: keyword coincidences count as events.
type RateLimitDetector struct {
	rules    []ProviderRule
	keywords []string
	lastAt   map[string]time.Time
}

func NewRateLimitDetector(rules []ProviderRule) *RateLimitDetector {
	if len(rules) == 0 {
		rules = DefaultProviderRules()
	}

	keywords := append([]string(nil), baseLogKeywords...)
	normalized := make([]ProviderRule, 0, len(rules))
	for _, rule := range rules {
		rule.Provider = strings.ToLower(strings.TrimSpace(rule.Provider))
		if rule.Provider == "" {
			continue
		}
		patterns := make([]string, 0, len(rule.Patterns))
		for _, pattern := range rule.Patterns {
			if p := strings.ToLower(strings.TrimSpace(pattern)); p != "" {
				patterns = append(patterns, p)
			}
		}
		rule.Patterns = patterns
		normalized = append(normalized, rule)
		keywords = append(keywords, rule.Provider)
	}

	return &RateLimitDetector{
		rules:    normalized,
		keywords: keywords,
		lastAt:   map[string]time.Time{},
	}
}

// Observe feeds one raw log line. Lines without a timestamp are ignored.
func (d *RateLimitDetector) Observe(line string) {
	if line == "" {
		return
	}
	lower := strings.ToLower(line)
	if !containsAny(lower, d.keywords) {
		return
	}

	at, text, ok := parseLogLine(line, lower)
	if !ok {
		return
	}

	generic := containsAny(text, genericPatterns)
	for _, rule := range d.rules {
		if !containsAny(text, rule.Patterns) && !(rule.CatchGeneric && generic) {
			continue
		}
		if prev, seen := d.lastAt[rule.Provider]; !seen || at.After(prev) {
			d.lastAt[rule.Provider] = at
		}
	}
}

// Events reports one event per provider seen so far, evaluated at now.
func (d *RateLimitDetector) Events(now time.Time) map[string]RateLimitEvent {
	events := make(map[string]RateLimitEvent, len(d.lastAt))
	for _, rule := range d.rules {
		at, ok := d.lastAt[rule.Provider]
		if !ok {
			continue
		}
		resetAt := at.Add(rule.ResetWindow)
		events[rule.Provider] = RateLimitEvent{
			LastAt:           at,
			EstimatedResetAt: resetAt,
			InCooldown:       resetAt.After(now),
		}
	}
	return events
}

type structuredLogLine struct {
	Time   json.RawMessage `json:"time"`
	Meta   json.RawMessage `json:"_meta"`
	First  json.RawMessage `json:"0"`
	Second json.RawMessage `json:"1"`
}

// at resolves "time" first, then "_meta.date". Both may be epoch numbers or
// date strings; a _meta that is not an object carries no date.
func (l structuredLogLine) at() (time.Time, bool) {
	if ms := ParseTimestampMillis(l.Time); ms != nil {
		return time.UnixMilli(*ms).UTC(), true
	}
	if t := string(l.Time); t != "" && t != "null" && t != `""` {
		return time.Time{}, false
	}

	var meta struct {
		Date json.RawMessage `json:"date"`
	}
	if err := json.Unmarshal(l.Meta, &meta); err != nil {
		return time.Time{}, false
	}
	if ms := ParseTimestampMillis(meta.Date); ms != nil {
		return time.UnixMilli(*ms).UTC(), true
	}
	return time.Time{}, false
}

// parseLogLine reads the structured form first. Only a line that is not a
// JSON object falls back to the literal "time" pattern with the raw line as
// text.
func parseLogLine(line, lower string) (time.Time, string, bool) {
	if isJSONObject(line) {
		var entry structuredLogLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return time.Time{}, "", false
		}
		at, ok := entry.at()
		if !ok {
			return time.Time{}, "", false
		}
		parts := make([]string, 0, 2)
		for _, field := range []json.RawMessage{entry.First, entry.Second} {
			if s := fieldText(field); s != "" {
				parts = append(parts, s)
			}
		}
		return at, strings.ToLower(strings.Join(parts, " ")), true
	}

	m := timeFieldPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, "", false
	}
	at, ok := ParseLogTime(m[1])
	if !ok {
		return time.Time{}, "", false
	}
	return at, lower, true
}

// fieldText renders a positional log argument. Strings are used as-is,
// objects and numbers by their JSON text.
func fieldText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isJSONObject(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed))
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Snapshot is the status document produced by one collection run. The raw
// call results are kept verbatim; a nil value means the call failed.
type Snapshot struct {
	UpdatedAt       time.Time                 `json:"updatedAt"`
	Health          json.RawMessage           `json:"health"`
	Status          json.RawMessage           `json:"status"`
	Presence        json.RawMessage           `json:"presence"`
	Usage           json.RawMessage           `json:"usage"`
	Cost            json.RawMessage           `json:"cost"`
	Sessions        json.RawMessage           `json:"sessions"`
	TaskMap         map[string]TaskSummary    `json:"taskMap"`
	ChatHistory     map[string][]ChatMessage  `json:"chatHistory"`
	RateLimitEvents map[string]RateLimitEvent `json:"rateLimitEvents"`
}

// MissingCalls counts the raw call results that came back null.
func (s Snapshot) MissingCalls() int {
	missing := 0
	for _, raw := range []json.RawMessage{s.Health, s.Status, s.Presence, s.Usage, s.Cost, s.Sessions} {
		if len(raw) == 0 || string(raw) == "null" {
			missing++
		}
	}
	return missing
}

// CooldownProviders lists providers currently cooling down, sorted by name.
func (s Snapshot) CooldownProviders() []string {
	providers := make([]string, 0, len(s.RateLimitEvents))
	for provider, event := range s.RateLimitEvents {
		if event.InCooldown {
			providers = append(providers, provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// AgentIDs returns every agent present in the task map or the chat history.
func (s Snapshot) AgentIDs() []string {
	seen := map[string]struct{}{}
	for id := range s.TaskMap {
		seen[id] = struct{}{}
	}
	for id := range s.ChatHistory {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsStale reports whether the snapshot is older than maxAge at now. A
// non-positive maxAge disables the check.
func (s Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if s.UpdatedAt.IsZero() {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > maxAge
}

package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultAgentID = "main"

	TaskMaxRunes    = 100
	LastMsgMaxRunes = 150
)

type SessionStatus string

const (
	SessionResponded SessionStatus = "responded"
	SessionWaiting   SessionStatus = "waiting"
)

// GatewayMessage is one entry of a chat.history payload.
type GatewayMessage struct {
	Role      string          `json:"role"`
	Content   Content         `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type TaskSummary struct {
	Task       string        `json:"task"`
	LastMsg    string        `json:"lastMsg"`
	Status     SessionStatus `json:"status"`
	SessionKey string        `json:"sessionKey"`
}

type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp *int64 `json:"timestamp"`
}

// AgentIDFromSessionKey returns the second colon-delimited segment of a
// session key ("agent:ops:main" -> "ops").
func AgentIDFromSessionKey(sessionKey string) string {
	parts := strings.Split(sessionKey, ":")
	if len(parts) < 2 || parts[1] == "" {
		return DefaultAgentID
	}
	return parts[1]
}

// SummarizeSession derives the task summary of one session. ok is false when
// the session has no messages.
func SummarizeSession(sessionKey string, messages []GatewayMessage) (TaskSummary, bool) {
	if len(messages) == 0 {
		return TaskSummary{}, false
	}

	var task, lastMsg string
	for _, msg := range messages {
		if msg.Role == "user" {
			task = msg.Content.ExtractText()
			break
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			lastMsg = messages[i].Content.ExtractText()
			break
		}
	}

	status := SessionWaiting
	if messages[len(messages)-1].Role == "assistant" {
		status = SessionResponded
	}

	return TaskSummary{
		Task:       truncateRunes(task, TaskMaxRunes),
		LastMsg:    truncateRunes(lastMsg, LastMsgMaxRunes),
		Status:     status,
		SessionKey: sessionKey,
	}, true
}

// ChatMessages converts gateway messages, dropping the ones without text.
func ChatMessages(messages []GatewayMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		text := msg.Content.ExtractText()
		if text == "" {
			continue
		}
		out = append(out, ChatMessage{
			Role:      msg.Role,
			Content:   text,
			Timestamp: ParseTimestampMillis(msg.Timestamp),
		})
	}
	return out
}

// SortChatHistory orders messages by timestamp; missing timestamps count as
// epoch and ties keep their merge order.
func SortChatHistory(messages []ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].millis() < messages[j].millis()
	})
}

func (m ChatMessage) millis() int64 {
	if m.Timestamp == nil {
		return 0
	}
	return *m.Timestamp
}

// ParseTimestampMillis accepts epoch numbers (seconds or milliseconds) and
// RFC 3339 strings.
func ParseTimestampMillis(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}

	switch v := value.(type) {
	case float64:
		return epochMillis(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochMillis(n)
		}
		parsed, ok := ParseLogTime(s)
		if !ok {
			return nil
		}
		ms := parsed.UnixMilli()
		return &ms
	default:
		return nil
	}
}

// epochMillis treats values below 1e12 as seconds. 1e12 ms is 2001-09-09
// while 1e12 s is far past any real clock, so the two ranges do not overlap
// for plausible timestamps.
func epochMillis(raw float64) *int64 {
	if raw <= 0 {
		return nil
	}
	ms := int64(raw)
	if raw < 1_000_000_000_000 {
		ms = int64(raw * 1000)
	}
	return &ms
}

var logTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// ParseLogTime parses the timestamp formats found in gateway logs. Values
// without a zone are read as UTC.
func ParseLogTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range logTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

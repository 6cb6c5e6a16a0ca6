package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit   = 150
	DefaultHistoryWorkers = 4

	methodHealth       = "health"
	methodStatus       = "status"
	methodPresence     = "system-presence"
	methodUsage        = "usage.status"
	methodCost         = "usage.cost"
	methodSessionsList = "sessions.list"
	methodChatHistory  = "chat.history"
)

type CollectorConfig struct {
	Discovery      domain.DiscoveryPolicy
	HistoryLimit   int
	HistoryWorkers int
}

// Collector produces one snapshot per Collect call over a fresh gateway
// session.
type Collector struct {
	dialer  ports.GatewayDialer
	scanner *RateLimitScanner
	store   ports.SnapshotStore
	clock   ports.Clock
	cfg     CollectorConfig
	logger  *slog.Logger
}

func NewCollector(dialer ports.GatewayDialer, scanner *RateLimitScanner, store ports.SnapshotStore, clock ports.Clock, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Discovery.Mode == "" {
		cfg.Discovery = domain.DefaultDiscoveryPolicy()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HistoryWorkers <= 0 {
		cfg.HistoryWorkers = DefaultHistoryWorkers
	}

	return &Collector{
		dialer:  dialer,
		scanner: scanner,
		store:   store,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Collect runs the handshake, the call battery and the per-session history
// fetches, then saves the snapshot. Only dial/handshake failures and store
// failures are returned; failed calls leave null or missing entries.
func (c *Collector) Collect(ctx context.Context) (domain.Snapshot, error) {
	session, err := c.dialer.Dial(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Debug("close gateway session", "error", closeErr)
		}
	}()

	snapshot := c.callBattery(ctx, session)

	keys := c.cfg.Discovery.SelectSessionKeys(parseAgentSessions(snapshot.Status), parseListedSessions(snapshot.Sessions))
	c.logger.Debug("session discovery", "policy", c.cfg.Discovery.Mode, "sessions", len(keys))

	histories := c.fetchHistories(ctx, session, keys)
	snapshot.TaskMap, snapshot.ChatHistory = foldSessions(keys, histories)

	now := c.clock.Now()
	snapshot.RateLimitEvents = map[string]domain.RateLimitEvent{}
	if c.scanner != nil {
		events, err := c.scanner.Scan(ctx, now)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan rate limit events: %w", err)
		}
		snapshot.RateLimitEvents = events
	}
	snapshot.UpdatedAt = now

	if err := c.store.Save(ctx, snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	return snapshot, nil
}

func (c *Collector) callBattery(ctx context.Context, session ports.GatewaySession) domain.Snapshot {
	var snapshot domain.Snapshot
	calls := []struct {
		method string
		dst    *json.RawMessage
	}{
		{methodHealth, &snapshot.Health},
		{methodStatus, &snapshot.Status},
		{methodPresence, &snapshot.Presence},
		{methodUsage, &snapshot.Usage},
		{methodCost, &snapshot.Cost},
		{methodSessionsList, &snapshot.Sessions},
	}

	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := session.Call(ctx, call.method, nil)
			if err != nil {
				c.logger.Debug("gateway call failed", "method", call.method, "error", err)
				return
			}
			*call.dst = payload
		}()
	}
	wg.Wait()

	return snapshot
}

func (c *Collector) fetchHistories(ctx context.Context, session ports.GatewaySession, keys []string) [][]domain.GatewayMessage {
	histories := make([][]domain.GatewayMessage, len(keys))

	var g errgroup.Group
	g.SetLimit(c.cfg.HistoryWorkers)
	for i, key := range keys {
		g.Go(func() error {
			payload, err := session.Call(ctx, methodChatHistory, map[string]any{
				"sessionKey": key,
				"limit":      c.cfg.HistoryLimit,
			})
			if err != nil {
				c.logger.Debug("skipping session history", "session", key, "error", err)
				return nil
			}
			histories[i] = parseHistory(payload, c.logger)
			return nil
		})
	}
	_ = g.Wait()

	return histories
}

// foldSessions builds the task map and merged chat history. Sessions are
// visited in discovery order, so the first session of an agent owns its task
// entry regardless of which fetch finished first.
func foldSessions(keys []string, histories [][]domain.GatewayMessage) (map[string]domain.TaskSummary, map[string][]domain.ChatMessage) {
	taskMap := map[string]domain.TaskSummary{}
	chatHistory := map[string][]domain.ChatMessage{}

	for i, key := range keys {
		messages := histories[i]
		if len(messages) == 0 {
			continue
		}

		agentID := domain.AgentIDFromSessionKey(key)
		if _, exists := taskMap[agentID]; !exists {
			if summary, ok := domain.SummarizeSession(key, messages); ok {
				taskMap[agentID] = summary
			}
		}

		if chatHistory[agentID] == nil {
			chatHistory[agentID] = []domain.ChatMessage{}
		}
		chatHistory[agentID] = append(chatHistory[agentID], domain.ChatMessages(messages)...)
	}

	for agentID := range chatHistory {
		domain.SortChatHistory(chatHistory[agentID])
	}

	return taskMap, chatHistory
}

type statusPayload struct {
	Sessions struct {
		ByAgent []struct {
			AgentID string `json:"agentId"`
			Recent  []struct {
				Key string `json:"key"`
			} `json:"recent"`
		} `json:"byAgent"`
	} `json:"sessions"`
}

type sessionsListPayload struct {
	Sessions []*struct {
		Key string `json:"key"`
	} `json:"sessions"`
}

type historyPayload struct {
	Messages []json.RawMessage `json:"messages"`
}

func parseAgentSessions(raw json.RawMessage) []domain.AgentSessions {
	if len(raw) == 0 {
		return nil
	}
	var payload statusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	agents := make([]domain.AgentSessions, 0, len(payload.Sessions.ByAgent))
	for _, entry := range payload.Sessions.ByAgent {
		agent := domain.AgentSessions{AgentID: entry.AgentID}
		for _, recent := range entry.Recent {
			agent.Recent = append(agent.Recent, recent.Key)
		}
		agents = append(agents, agent)
	}
	return agents
}

func parseListedSessions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var payload sessionsListPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	keys := make([]string, 0, len(payload.Sessions))
	for _, session := range payload.Sessions {
		if session == nil || session.Key == "" {
			continue
		}
		keys = append(keys, session.Key)
	}
	return keys
}

func parseHistory(raw json.RawMessage, logger *slog.Logger) []domain.GatewayMessage {
	if len(raw) == 0 {
		return nil
	}
	var payload historyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Debug("discarding malformed chat.history payload", "error", err)
		return nil
	}

	messages := make([]domain.GatewayMessage, 0, len(payload.Messages))
	for _, item := range payload.Messages {
		var msg domain.GatewayMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			logger.Debug("discarding malformed chat message", "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

package status

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type RenderOptions struct {
	Now        time.Time
	StaleAfter time.Duration
}

// snapshotView draws once and quits.
type snapshotView struct {
	snapshot domain.Snapshot
	opts     RenderOptions
}

func (v snapshotView) Init() tea.Cmd { return tea.Quit }

func (v snapshotView) Update(tea.Msg) (tea.Model, tea.Cmd) { return v, nil }

func (v snapshotView) View() string { return renderView(v.snapshot, v.opts, newStyles()) }

func Render(snapshot domain.Snapshot, opts RenderOptions) (string, error) {
	final, err := tea.NewProgram(
		snapshotView{snapshot: snapshot, opts: opts},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	).Run()
	if err != nil {
		return "", fmt.Errorf("render status: %w", err)
	}

	view, ok := final.(snapshotView)
	if !ok {
		return "", fmt.Errorf("render status: unexpected model %T", final)
	}
	return view.View(), nil
}

func renderView(snapshot domain.Snapshot, opts RenderOptions, s styles) string {
	agentIDs := snapshot.AgentIDs()

	header := fmt.Sprintf("agents: %d  missing calls: %d", len(agentIDs), snapshot.MissingCalls())
	if !snapshot.UpdatedAt.IsZero() {
		header = fmt.Sprintf("updated %s  %s", formatUpdatedAt(snapshot.UpdatedAt, opts.Now), header)
	}
	headerLine := s.header.Render(header)
	if !opts.Now.IsZero() && snapshot.IsStale(opts.Now, opts.StaleAfter) {
		headerLine += " " + s.warning.Render("[stale]")
	}

	lines := []string{
		s.title.Render("OpenClaw Gateway Status"),
		headerLine,
		s.section.Render(renderProviders(snapshot.RateLimitEvents, opts, s)),
	}

	if len(agentIDs) == 0 {
		lines = append(lines, s.section.Render(s.empty.Render("No agent activity recorded.")))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, id := range agentIDs {
		lines = append(lines, s.section.Render(renderAgent(id, snapshot, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderProviders(events map[string]domain.RateLimitEvent, opts RenderOptions, s styles) string {
	if len(events) == 0 {
		return s.empty.Render("providers: no rate limit events")
	}

	providers := make([]string, 0, len(events))
	for provider := range events {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	lines := make([]string, 0, len(providers))
	for _, provider := range providers {
		lines = append(lines, providerLine(provider, events[provider], opts, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func providerLine(provider string, event domain.RateLimitEvent, opts RenderOptions, s styles) string {
	label := s.label.Render(fmt.Sprintf("%-10s", provider))
	if !event.InCooldown {
		return lipgloss.JoinHorizontal(
			lipgloss.Top,
			label,
			" ",
			s.ready.Render("ready"),
			" ",
			s.detail.Render(fmt.Sprintf("(last limit %s)", formatResetAt(event.LastAt, opts.Now))),
		)
	}

	window := event.EstimatedResetAt.Sub(event.LastAt)
	remaining := cooldownRemainingPercent(event, opts.Now)
	resetStyle := lipgloss.NewStyle().Foreground(resetTimeColor(event.EstimatedResetAt, opts.Now, window))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		label,
		" ",
		renderProgressBar(remaining, barWidth, s),
		" ",
		s.warning.Render("cooldown"),
		" ",
		resetStyle.Render(fmt.Sprintf("(%s)", formatResetRelative(event.EstimatedResetAt, opts.Now))),
	)
}

func renderAgent(id string, snapshot domain.Snapshot, s styles) string {
	parts := []string{}

	summary, ok := snapshot.TaskMap[id]
	title := s.agent.Render(id)
	if ok {
		title += " " + statusBadge(summary.Status, s)
	}
	parts = append(parts, title)

	if ok {
		parts = append(parts, s.detail.Render("task: "+orPlaceholder(summary.Task)))
		parts = append(parts, s.detail.Render("last: "+orPlaceholder(oneLine(summary.LastMsg))))
		parts = append(parts, s.empty.Render("session: "+summary.SessionKey))
	}

	history := snapshot.ChatHistory[id]
	parts = append(parts, s.detail.Render(fmt.Sprintf("messages: %d", len(history))))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func statusBadge(status domain.SessionStatus, s styles) string {
	switch status {
	case domain.SessionResponded:
		return s.responded.Render("[responded]")
	case domain.SessionWaiting:
		return s.waiting.Render("[waiting]")
	default:
		return s.empty.Render("[unknown]")
	}
}

func orPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return "n/a"
	}
	return text
}

func oneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// cooldownRemainingPercent is the share of the reset window still ahead.
func cooldownRemainingPercent(event domain.RateLimitEvent, now time.Time) float64 {
	window := event.EstimatedResetAt.Sub(event.LastAt)
	if window <= 0 || now.IsZero() {
		return 100
	}
	remaining := event.EstimatedResetAt.Sub(now)
	return clampPercent(100 * remaining.Seconds() / window.Seconds())
}

func renderProgressBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(percent) / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", empty)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatUpdatedAt(updatedAt, now time.Time) string {
	if now.IsZero() || updatedAt.After(now) {
		return updatedAt.Format(time.RFC3339)
	}
	age := now.Sub(updatedAt).Round(time.Second)
	return fmt.Sprintf("%s (%s ago)", updatedAt.Format("15:04:05"), age)
}

func formatResetAt(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := at.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return at.Format("15:04")
	}

	return at.Format("15:04 on 02 Jan")
}

func formatResetRelative(resetsAt, now time.Time) string {
	if now.IsZero() {
		return "resets " + formatResetAt(resetsAt, now)
	}

	if !resetsAt.After(now) {
		return "reset now"
	}

	remaining := resetsAt.Sub(now)
	if remaining < time.Hour {
		minutes := int(math.Ceil(remaining.Minutes()))
		suffix := "minutes"
		if minutes == 1 {
			suffix = "minute"
		}
		return fmt.Sprintf("resets in %d %s (%s)", minutes, suffix, resetsAt.Format("15:04"))
	}

	hours := int(math.Ceil(remaining.Hours()))
	suffix := "hours"
	if hours == 1 {
		suffix = "hour"
	}
	return fmt.Sprintf("resets in %d %s (%s)", hours, suffix, resetsAt.Format("15:04"))
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, 240 (faded) to 255 (bright).
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}

// resetTimeColor brightens as the reset approaches.
func resetTimeColor(resetsAt, now time.Time, window time.Duration) lipgloss.Color {
	if now.IsZero() || resetsAt.Before(now) || window <= 0 {
		return lipgloss.Color("255")
	}

	remaining := resetsAt.Sub(now)
	inverted := window.Seconds() - remaining.Seconds()
	return interpolateColor(inverted, 0, window.Seconds())
}

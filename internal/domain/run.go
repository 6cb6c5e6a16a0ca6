package domain

import "time"

type RunOutcome string

const (
	RunOK     RunOutcome = "ok"
	RunFailed RunOutcome = "failed"
)

// RunRecord summarizes one collect invocation for the optional run history.
type RunRecord struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        time.Time
	Outcome           RunOutcome
	Error             string
	MissingCalls      int
	TaskCount         int
	AgentCount        int
	CooldownProviders []string
	Uploaded          bool
}

func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

package domain

import "fmt"

type DiscoveryMode string

const (
	// DiscoveryAll inspects every session referenced by the status call and
	// the session listing.
	DiscoveryAll DiscoveryMode = "all"
	// DiscoveryTop inspects the first TopAgents agents' first TopSessions
	// recent sessions from the status call.
	DiscoveryTop DiscoveryMode = "top"
)

type DiscoveryPolicy struct {
	Mode        DiscoveryMode
	TopAgents   int
	TopSessions int
}

func DefaultDiscoveryPolicy() DiscoveryPolicy {
	return DiscoveryPolicy{Mode: DiscoveryAll, TopAgents: 5, TopSessions: 3}
}

func (p DiscoveryPolicy) Validate() error {
	switch p.Mode {
	case DiscoveryAll:
		return nil
	case DiscoveryTop:
		if p.TopAgents <= 0 || p.TopSessions <= 0 {
			return fmt.Errorf("%w: top discovery needs positive agent and session counts", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown discovery mode %q", ErrConfiguration, p.Mode)
	}
}

// AgentSessions is one entry of status.sessions.byAgent.
type AgentSessions struct {
	AgentID string
	Recent  []string
}

// SelectSessionKeys applies the policy to the session references gathered
// from the status and sessions.list calls. Order is first-seen and keys are
// unique.
func (p DiscoveryPolicy) SelectSessionKeys(byAgent []AgentSessions, listed []string) []string {
	keys := make([]string, 0, len(listed))
	seen := map[string]struct{}{}
	add := func(key string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if p.Mode == DiscoveryTop {
		for i, agent := range byAgent {
			if i >= p.TopAgents {
				break
			}
			for j, key := range agent.Recent {
				if j >= p.TopSessions {
					break
				}
				add(key)
			}
		}
		return keys
	}

	for _, agent := range byAgent {
		for _, key := range agent.Recent {
			add(key)
		}
	}
	for _, key := range listed {
		add(key)
	}
	return keys
}

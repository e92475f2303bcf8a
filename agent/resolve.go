package agent

import (
	"context"
	"fmt"

	"github.com/lookatitude/letta-voice-gateway/memory"
	"github.com/lookatitude/letta-voice-gateway/o11y"
)

// ErrConfigMissing signals a fatal startup condition: no agent_id could be
// resolved for the configured primary_agent_name (spec.md §9
// "ConfigMissing").
type ErrConfigMissing struct {
	PrimaryAgentName string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("agent: no agent found matching PRIMARY_AGENT_NAME %q", e.PrimaryAgentName)
}

// ResolvePrimaryAgent determines the agent_id to run as, following spec.md
// §9's resolution order: PRIMARY_AGENT_ID if set, else the first agent
// returned by the service whose name matches primaryAgentName (logging a
// warning if more than one matches). An empty result is a fatal
// configuration error.
func ResolvePrimaryAgent(ctx context.Context, client *memory.AgentClient, primaryAgentName, primaryAgentID string, logger *o11y.Logger) (string, error) {
	if primaryAgentID != "" {
		return primaryAgentID, nil
	}
	if logger == nil {
		logger = o11y.NewLogger()
	}

	agents, err := client.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("agent: resolve primary agent: %w", err)
	}

	var matchID string
	matches := 0
	for _, a := range agents {
		if a.Name != primaryAgentName {
			continue
		}
		matches++
		if matches == 1 {
			matchID = a.ID
		}
	}

	if matches == 0 {
		return "", &ErrConfigMissing{PrimaryAgentName: primaryAgentName}
	}
	if matches > 1 {
		logger.Warn(ctx, "multiple agents match PRIMARY_AGENT_NAME, using the first",
			"primary_agent_name", primaryAgentName, "match_count", matches)
	}
	return matchID, nil
}

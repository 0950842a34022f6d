package policy

import "github.com/outpost-sh/outpost/pkg/types"

// Access-group scoping evaluates visibility — what a user may list or act
// on — separately from an API key's invocation policy. Group agent
// patterns reuse the glob semantics of probe allow-lists.

// AgentVisible reports whether an agent name is visible through the given
// group assignment. A user with no group assignment (empty slice) has
// unrestricted visibility: default-open.
func AgentVisible(groups []*types.AccessGroup, agentName string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		for _, pattern := range group.AgentPatterns {
			if matchGlob(pattern, agentName) {
				return true
			}
		}
	}
	return false
}

// IntegrationVisible reports whether an integration id is visible through
// the given group assignment. Integration ids match exactly, no globbing.
func IntegrationVisible(groups []*types.AccessGroup, integrationID string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		for _, id := range group.IntegrationIDs {
			if id == integrationID {
				return true
			}
		}
	}
	return false
}

// FilterVisibleAgents returns the agents visible through the given group
// assignment, preserving order
func FilterVisibleAgents(groups []*types.AccessGroup, agents []*types.Agent) []*types.Agent {
	if len(groups) == 0 {
		return agents
	}
	var visible []*types.Agent
	for _, agent := range agents {
		if AgentVisible(groups, agent.Name) {
			visible = append(visible, agent)
		}
	}
	return visible
}

// EvaluateVisibility is the Decision-shaped form of AgentVisible for use in
// the authorization pipeline
func EvaluateVisibility(groups []*types.AccessGroup, agentName string) Decision {
	if AgentVisible(groups, agentName) {
		return Allow()
	}
	return Deny("agent %q outside visible access groups", agentName)
}

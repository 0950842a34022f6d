package policy

import (
	"fmt"

	"github.com/outpost-sh/outpost/pkg/types"
)

// Decision is the outcome of a policy evaluation. Policy checks never
// return errors or panic; a denial is a value with a reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the positive decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denial with a formatted reason
func Deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// EvaluateAgentAccess applies an API key's agent allow-list. An empty or
// absent list is unrestricted; a non-empty list requires an exact name
// match.
func EvaluateAgentAccess(policy *types.APIKeyPolicy, agentName string) Decision {
	if policy == nil || len(policy.AllowedAgents) == 0 {
		return Allow()
	}
	for _, allowed := range policy.AllowedAgents {
		if allowed == agentName {
			return Allow()
		}
	}
	return Deny("agent %q not in key allow-list", agentName)
}

// EvaluateProbeAccess applies an API key's probe allow-list. An empty or
// absent list is unrestricted; a non-empty list requires a glob match
// (`*` matches any run of characters, full-string anchored).
func EvaluateProbeAccess(policy *types.APIKeyPolicy, probe string) Decision {
	if policy == nil || len(policy.AllowedProbes) == 0 {
		return Allow()
	}
	for _, pattern := range policy.AllowedProbes {
		if matchGlob(pattern, probe) {
			return Allow()
		}
	}
	return Deny("probe %q not in key allow-list", probe)
}

// EvaluateClientAccess applies an API key's client allow-list with exact
// matching; an empty list is unrestricted.
func EvaluateClientAccess(policy *types.APIKeyPolicy, clientID string) Decision {
	if policy == nil || len(policy.AllowedClients) == 0 {
		return Allow()
	}
	for _, allowed := range policy.AllowedClients {
		if allowed == clientID {
			return Allow()
		}
	}
	return Deny("client %q not in key allow-list", clientID)
}

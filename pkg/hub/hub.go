package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/outpost-sh/outpost/pkg/audit"
	"github.com/outpost-sh/outpost/pkg/auth"
	"github.com/outpost-sh/outpost/pkg/config"
	"github.com/outpost-sh/outpost/pkg/dispatch"
	"github.com/outpost-sh/outpost/pkg/enroll"
	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/metrics"
	"github.com/outpost-sh/outpost/pkg/policy"
	"github.com/outpost-sh/outpost/pkg/security"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

// Hub wires the store, certificate authority, enrollment service,
// dispatcher, auth managers, and audit chain into one process.
type Hub struct {
	cfg        *config.Config
	store      storage.Store
	ca         *security.CertAuthority
	enrollment *enroll.Service
	dispatcher *dispatch.Dispatcher
	sessions   *auth.SessionManager
	apiKeys    *auth.APIKeyManager
	auditChain *audit.Chain
	broker     *events.Broker
	logger     zerolog.Logger
}

// New builds a Hub from configuration. The bolt store is opened under
// cfg.DataDir and the CA key is encrypted at rest with the hub secret.
func New(cfg *config.Config) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	metrics.RegisterComponent("store", true, "")

	secrets, err := security.NewSecretsManagerFromPassword(cfg.HubSecret)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to derive hub key: %w", err)
	}
	ca := security.NewCertAuthority(store, secrets)
	if err := ca.Ensure(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize CA: %w", err)
	}
	metrics.RegisterComponent("ca", true, "")

	broker := events.NewBroker()
	broker.Start()

	h := &Hub{
		cfg:        cfg,
		store:      store,
		ca:         ca,
		enrollment: enroll.NewService(store, ca),
		dispatcher: dispatch.NewDispatcher(store, broker,
			dispatch.WithDefaultTimeout(cfg.ProbeTimeout),
			dispatch.WithHeartbeatTimeout(cfg.HeartbeatTimeout)),
		sessions:   auth.NewSessionManager(store, broker, cfg.HubSecret, cfg.SessionTTL),
		apiKeys:    auth.NewAPIKeyManager(store),
		auditChain: audit.NewChain(cfg.AuditCapacity),
		broker:     broker,
		logger:     log.WithComponent("hub"),
	}
	return h, nil
}

// Start launches the hub's background loops
func (h *Hub) Start() {
	h.dispatcher.Start()
	h.sessions.Start()
}

// Stop shuts down background loops and closes the store
func (h *Hub) Stop() error {
	h.sessions.Stop()
	h.dispatcher.Stop()
	h.broker.Stop()
	return h.store.Close()
}

// Accessors for the API layer
func (h *Hub) Store() storage.Store             { return h.store }
func (h *Hub) CA() *security.CertAuthority      { return h.ca }
func (h *Hub) Enrollment() *enroll.Service      { return h.enrollment }
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }
func (h *Hub) Sessions() *auth.SessionManager   { return h.sessions }
func (h *Hub) APIKeys() *auth.APIKeyManager     { return h.apiKeys }
func (h *Hub) Broker() *events.Broker           { return h.broker }
func (h *Hub) Config() *config.Config           { return h.cfg }

// ExecuteProbe runs the full pipeline for one probe invocation: role check,
// key allow-lists, access-group visibility, dispatch, audit. Authorization
// denials return a result with status denied rather than an error; they are
// audited only when audit_denied is configured. Every dispatched request
// produces exactly one audit entry regardless of outcome.
func (h *Hub) ExecuteProbe(ctx context.Context, caller *auth.Caller, agentRef string, req *types.ProbeRequest) (*types.ProbeResult, error) {
	agent, err := h.resolveAgent(agentRef)
	if err != nil {
		return nil, err
	}

	if denied := h.authorize(caller, agent, req.Probe); denied != nil {
		metrics.ProbeDispatchesTotal.WithLabelValues(string(types.ProbeStatusDenied)).Inc()
		if h.cfg.AuditDenied {
			h.logAudit(caller, agent.Name, req, denied)
		}
		return denied, nil
	}

	result, err := h.dispatcher.Execute(ctx, agent.ID, req)
	if err != nil {
		// Dispatch never reached the agent (offline, encode or send
		// failure). Audit the attempt as an error outcome.
		result = &types.ProbeResult{
			Status: types.ProbeStatusError,
			Error:  err.Error(),
		}
		h.logAudit(caller, agent.Name, req, result)
		return nil, err
	}

	h.logAudit(caller, agent.Name, req, result)
	return result, nil
}

// authorize runs the pre-dispatch checks and returns a denied result, or nil
// when the caller may proceed
func (h *Hub) authorize(caller *auth.Caller, agent *types.Agent, probe string) *types.ProbeResult {
	if !policy.HasPermission(caller.Role, policy.PermProbesExecute) {
		metrics.PolicyDenialsTotal.WithLabelValues("role").Inc()
		return deniedResult(fmt.Sprintf("role %q may not execute probes", caller.Role))
	}

	if caller.Type == auth.CallerAPIKey {
		if d := policy.EvaluateProbeAccess(&caller.Policy, probe); !d.Allowed {
			metrics.PolicyDenialsTotal.WithLabelValues("probe_allowlist").Inc()
			return deniedResult(d.Reason)
		}
		if d := policy.EvaluateAgentAccess(&caller.Policy, agent.Name); !d.Allowed {
			metrics.PolicyDenialsTotal.WithLabelValues("agent_allowlist").Inc()
			return deniedResult(d.Reason)
		}
	}

	if caller.UserID != "" {
		groups, err := h.store.ListAccessGroupsForUser(caller.UserID)
		if err != nil {
			metrics.PolicyDenialsTotal.WithLabelValues("visibility").Inc()
			return deniedResult("failed to resolve access groups")
		}
		if d := policy.EvaluateVisibility(groups, agent.Name); !d.Allowed {
			metrics.PolicyDenialsTotal.WithLabelValues("visibility").Inc()
			return deniedResult(d.Reason)
		}
	}
	return nil
}

// ListAgents returns the agents visible to the caller, filtered through the
// caller's access groups. Live dispatcher status overrides the stored one.
func (h *Hub) ListAgents(caller *auth.Caller) ([]*types.Agent, error) {
	if !policy.HasPermission(caller.Role, policy.PermAgentsView) {
		return nil, fmt.Errorf("role %q may not view agents", caller.Role)
	}

	agents, err := h.store.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	if caller.UserID != "" {
		groups, err := h.store.ListAccessGroupsForUser(caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve access groups: %w", err)
		}
		agents = policy.FilterVisibleAgents(groups, agents)
	}

	for _, agent := range agents {
		agent.Status = h.dispatcher.Status(agent.ID)
	}
	return agents, nil
}

// GetAgent resolves one agent for the caller, enforcing visibility
func (h *Hub) GetAgent(caller *auth.Caller, agentRef string) (*types.Agent, error) {
	agent, err := h.resolveAgent(agentRef)
	if err != nil {
		return nil, err
	}
	if caller.UserID != "" {
		groups, err := h.store.ListAccessGroupsForUser(caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve access groups: %w", err)
		}
		if !policy.AgentVisible(groups, agent.Name) {
			return nil, storage.ErrNotFound
		}
	}
	agent.Status = h.dispatcher.Status(agent.ID)
	return agent, nil
}

// AuditRecent returns the last n audit entries oldest-first
func (h *Hub) AuditRecent(caller *auth.Caller, n int) ([]*types.AuditEntry, error) {
	if !policy.HasPermission(caller.Role, policy.PermAuditView) {
		return nil, fmt.Errorf("role %q may not view the audit log", caller.Role)
	}
	return h.auditChain.GetRecent(n), nil
}

// AuditVerify re-checks the chain's hash links
func (h *Hub) AuditVerify(caller *auth.Caller) (*audit.VerifyResult, error) {
	if !policy.HasPermission(caller.Role, policy.PermAuditView) {
		return nil, fmt.Errorf("role %q may not view the audit log", caller.Role)
	}
	result := h.auditChain.VerifyChain()
	if result.Valid {
		metrics.AuditChainValid.Set(1)
	} else {
		metrics.AuditChainValid.Set(0)
		h.broker.Publish(&events.Event{
			Type:    events.EventAuditChainBroken,
			Message: result.Reason,
		})
	}
	return &result, nil
}

// AuditChain exposes the chain for in-process consumers
func (h *Hub) AuditChain() *audit.Chain { return h.auditChain }

func (h *Hub) resolveAgent(agentRef string) (*types.Agent, error) {
	agent, err := h.store.GetAgent(agentRef)
	if err == nil {
		return agent, nil
	}
	agent, err = h.store.GetAgentByName(agentRef)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agentRef, storage.ErrNotFound)
	}
	return agent, nil
}

func (h *Hub) logAudit(caller *auth.Caller, agentName string, req *types.ProbeRequest, result *types.ProbeResult) {
	reqJSON, _ := json.Marshal(req)
	respJSON, _ := json.Marshal(result)

	h.auditChain.Log(audit.Entry{
		APIKeyID:      caller.KeyID,
		AgentOrSource: agentName,
		Probe:         req.Probe,
		Status:        result.Status,
		DurationMs:    result.DurationMs,
		RequestJSON:   string(reqJSON),
		ResponseJSON:  string(respJSON),
	})
	metrics.AuditEntriesTotal.Inc()
}

func deniedResult(reason string) *types.ProbeResult {
	return &types.ProbeResult{
		Status: types.ProbeStatusDenied,
		Error:  reason,
	}
}

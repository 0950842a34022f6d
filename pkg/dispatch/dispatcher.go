package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/metrics"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	// DefaultProbeTimeout bounds a dispatch when the caller sets none
	DefaultProbeTimeout = 30 * time.Second

	// DefaultHeartbeatTimeout is how long an agent may go silent before the
	// monitor marks it offline
	DefaultHeartbeatTimeout = 90 * time.Second

	monitorInterval = 10 * time.Second
)

var (
	// ErrAgentNotFound is returned when the agent reference resolves to nothing
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentOffline is returned when dispatching to an agent that is not
	// online. No network attempt is made.
	ErrAgentOffline = errors.New("agent is not connected")
)

// AgentConn is the transport half of a live agent connection. The websocket
// layer implements it for production; tests supply in-memory fakes.
type AgentConn interface {
	Send(env *types.Envelope) error
	Close() error
}

// connection is the dispatcher's record of one live agent
type connection struct {
	agentID  string
	name     string
	conn     AgentConn
	status   types.AgentStatus
	lastSeen time.Time
}

// pendingRequest tracks one in-flight probe awaiting its response frame.
// respCh is buffered so the resolving side never blocks.
type pendingRequest struct {
	agentID string
	probe   string
	started time.Time
	respCh  chan *types.ProbeResult
}

// Dispatcher owns the live connection registry and the correlation table
// that pairs probe requests with their asynchronous responses.
type Dispatcher struct {
	mu      sync.RWMutex
	byID    map[string]*connection
	byName  map[string]string // agent name -> agent id
	pending map[string]*pendingRequest

	store            storage.Store
	broker           *events.Broker
	logger           zerolog.Logger
	defaultTimeout   time.Duration
	heartbeatTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option adjusts dispatcher construction
type Option func(*Dispatcher)

// WithDefaultTimeout overrides the fallback per-request deadline
func WithDefaultTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.defaultTimeout = d }
}

// WithHeartbeatTimeout overrides how long a silent agent stays online
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.heartbeatTimeout = d }
}

// NewDispatcher creates a dispatcher backed by the given store and broker
func NewDispatcher(store storage.Store, broker *events.Broker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		byID:             make(map[string]*connection),
		byName:           make(map[string]string),
		pending:          make(map[string]*pendingRequest),
		store:            store,
		broker:           broker,
		logger:           log.WithComponent("dispatch"),
		defaultTimeout:   DefaultProbeTimeout,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the heartbeat monitor loop
func (d *Dispatcher) Start() {
	go d.monitor()
}

// Stop halts the monitor and fails every pending request
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]*pendingRequest)
	conns := make([]*connection, 0, len(d.byID))
	for _, c := range d.byID {
		conns = append(conns, c)
	}
	d.byID = make(map[string]*connection)
	d.byName = make(map[string]string)
	d.mu.Unlock()

	for id, req := range pending {
		d.resolvePending(id, req, &types.ProbeResult{
			RequestID: id,
			Status:    types.ProbeStatusError,
			Error:     "hub shutting down",
		})
	}
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

// Register attaches a live connection for an agent that has already passed
// certificate verification. The agent transitions to online. A registration
// for an agent with an existing connection replaces it: the old socket is
// torn down and its pending requests failed, so reconnects after a network
// partition do not wait for the stale read loop to error out.
func (d *Dispatcher) Register(agentID, name string, conn AgentConn) error {
	d.mu.RLock()
	_, stale := d.byID[agentID]
	d.mu.RUnlock()
	if stale {
		d.logger.Warn().
			Str("agent_id", agentID).
			Str("name", name).
			Msg("replacing stale connection")
		d.Disconnect(agentID)
	}

	d.mu.Lock()
	now := time.Now()
	d.byID[agentID] = &connection{
		agentID:  agentID,
		name:     name,
		conn:     conn,
		status:   types.AgentStatusOnline,
		lastSeen: now,
	}
	d.byName[name] = agentID
	d.mu.Unlock()

	d.persistStatus(agentID, types.AgentStatusOnline, now)
	metrics.AgentsConnected.WithLabelValues(string(types.AgentStatusOnline)).Inc()

	d.logger.Info().
		Str("agent_id", agentID).
		Str("name", name).
		Msg("agent connected")

	d.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventAgentConnected,
		Message: fmt.Sprintf("agent %s connected", name),
		Metadata: map[string]string{
			"agent_id": agentID,
			"name":     name,
		},
	})
	return nil
}

// Disconnect removes the agent's connection and fails all of its pending
// requests at once. Safe to call for agents that are not registered.
func (d *Dispatcher) Disconnect(agentID string) {
	d.mu.Lock()
	conn, ok := d.byID[agentID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.byID, agentID)
	delete(d.byName, conn.name)

	var orphaned []string
	for id, req := range d.pending {
		if req.agentID == agentID {
			orphaned = append(orphaned, id)
		}
	}
	reqs := make(map[string]*pendingRequest, len(orphaned))
	for _, id := range orphaned {
		reqs[id] = d.pending[id]
		delete(d.pending, id)
	}
	d.mu.Unlock()

	for id, req := range reqs {
		d.resolvePending(id, req, &types.ProbeResult{
			RequestID: id,
			Status:    types.ProbeStatusError,
			Error:     "agent disconnected",
		})
	}

	_ = conn.conn.Close()

	d.persistStatus(agentID, types.AgentStatusOffline, time.Now())
	metrics.AgentsConnected.WithLabelValues(string(conn.status)).Dec()

	d.logger.Info().
		Str("agent_id", agentID).
		Str("name", conn.name).
		Int("failed_requests", len(reqs)).
		Msg("agent disconnected")

	d.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventAgentOffline,
		Message: fmt.Sprintf("agent %s disconnected", conn.name),
		Metadata: map[string]string{
			"agent_id": agentID,
			"name":     conn.name,
		},
	})
}

// Heartbeat refreshes the agent's liveness. A degraded agent that heartbeats
// returns to online.
func (d *Dispatcher) Heartbeat(agentID string) {
	d.mu.Lock()
	conn, ok := d.byID[agentID]
	if !ok {
		d.mu.Unlock()
		return
	}
	conn.lastSeen = time.Now()
	recovered := conn.status == types.AgentStatusDegraded
	conn.status = types.AgentStatusOnline
	d.mu.Unlock()

	if recovered {
		metrics.AgentsConnected.WithLabelValues(string(types.AgentStatusDegraded)).Dec()
		metrics.AgentsConnected.WithLabelValues(string(types.AgentStatusOnline)).Inc()
		d.persistStatus(agentID, types.AgentStatusOnline, time.Now())
		d.logger.Info().Str("agent_id", agentID).Msg("agent recovered from degraded")
	} else {
		d.persistLastSeen(agentID, time.Now())
	}
}

// Status reports the dispatcher's view of an agent. Agents without a live
// connection are offline.
func (d *Dispatcher) Status(agentID string) types.AgentStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if conn, ok := d.byID[agentID]; ok {
		return conn.status
	}
	return types.AgentStatusOffline
}

// ConnectedCount returns the number of live connections
func (d *Dispatcher) ConnectedCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// PendingCount returns the number of in-flight requests
func (d *Dispatcher) PendingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// Execute dispatches one probe to the agent identified by id or name and
// blocks until the response arrives, the per-request deadline passes, or ctx
// is cancelled. Exactly one terminal result is produced per request.
func (d *Dispatcher) Execute(ctx context.Context, agentRef string, req *types.ProbeRequest) (*types.ProbeResult, error) {
	d.mu.RLock()
	conn, ok := d.byID[agentRef]
	if !ok {
		if id, found := d.byName[agentRef]; found {
			conn = d.byID[id]
			ok = conn != nil
		}
	}
	var status types.AgentStatus
	if ok {
		status = conn.status
	}
	d.mu.RUnlock()

	if !ok {
		// Distinguish an enrolled-but-offline agent from an unknown one
		// without touching the network either way.
		if _, err := d.store.GetAgent(agentRef); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAgentOffline, agentRef)
		}
		if _, err := d.store.GetAgentByName(agentRef); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAgentOffline, agentRef)
		}
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentRef)
	}
	if status != types.AgentStatusOnline {
		// A degraded agent has a socket but no recent heartbeat; sending
		// would only burn the caller's deadline.
		return nil, fmt.Errorf("%w: %s is %s", ErrAgentOffline, conn.name, status)
	}

	timeout := d.defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	requestID := uuid.New().String()
	pending := &pendingRequest{
		agentID: conn.agentID,
		probe:   req.Probe,
		started: time.Now(),
		respCh:  make(chan *types.ProbeResult, 1),
	}

	d.mu.Lock()
	d.pending[requestID] = pending
	d.mu.Unlock()
	metrics.PendingRequests.Inc()

	env, err := types.NewEnvelope(types.MsgProbeRequest, &types.ProbeRequestPayload{
		RequestID: requestID,
		Probe:     req.Probe,
		Params:    req.Params,
		TimeoutMs: timeout.Milliseconds(),
	})
	if err != nil {
		d.removePending(requestID)
		return nil, fmt.Errorf("failed to encode probe request: %w", err)
	}

	if err := conn.conn.Send(env); err != nil {
		d.removePending(requestID)
		d.logger.Error().Err(err).
			Str("agent_id", conn.agentID).
			Str("request_id", requestID).
			Msg("failed to send probe request")
		return nil, fmt.Errorf("failed to send probe request to agent %s: %w", conn.name, err)
	}

	d.logger.Debug().
		Str("agent_id", conn.agentID).
		Str("request_id", requestID).
		Str("probe", req.Probe).
		Dur("timeout", timeout).
		Msg("probe dispatched")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-pending.respCh:
		d.observeResult(req.Probe, result, pending.started)
		return result, nil

	case <-timer.C:
		if p, ok := d.removePending(requestID); ok {
			result := &types.ProbeResult{
				RequestID:  requestID,
				Status:     types.ProbeStatusTimeout,
				Error:      fmt.Sprintf("probe %s timed out after %s", p.probe, timeout),
				DurationMs: time.Since(p.started).Milliseconds(),
			}
			d.observeResult(p.probe, result, p.started)
			d.broker.Publish(&events.Event{
				ID:      uuid.New().String(),
				Type:    events.EventProbeTimedOut,
				Message: fmt.Sprintf("probe %s on agent %s timed out", p.probe, conn.name),
				Metadata: map[string]string{
					"agent_id":   conn.agentID,
					"request_id": requestID,
					"probe":      p.probe,
				},
			})
			return result, nil
		}
		// A response won the race between timer fire and table removal.
		result := <-pending.respCh
		d.observeResult(req.Probe, result, pending.started)
		return result, nil

	case <-ctx.Done():
		if _, ok := d.removePending(requestID); ok {
			return nil, ctx.Err()
		}
		result := <-pending.respCh
		d.observeResult(req.Probe, result, pending.started)
		return result, nil
	}
}

// HandleResponse delivers an agent's response frame to the waiting Execute
// call. Late or duplicate responses are dropped; the pending entry is removed
// under the lock so each request resolves exactly once.
func (d *Dispatcher) HandleResponse(requestID string, payload *types.ProbeResponsePayload) {
	req, ok := d.removePending(requestID)
	if !ok {
		d.logger.Debug().
			Str("request_id", requestID).
			Msg("dropping response for unknown or already-resolved request")
		return
	}

	result := &types.ProbeResult{
		RequestID:  requestID,
		Status:     payload.Status,
		Data:       payload.Data,
		Error:      payload.Error,
		DurationMs: payload.DurationMs,
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(req.started).Milliseconds()
	}
	req.respCh <- result
}

// removePending deletes and returns the pending entry for requestID. The
// boolean reports whether this caller won the removal.
func (d *Dispatcher) removePending(requestID string) (*pendingRequest, bool) {
	d.mu.Lock()
	req, ok := d.pending[requestID]
	if ok {
		delete(d.pending, requestID)
	}
	d.mu.Unlock()
	if ok {
		metrics.PendingRequests.Dec()
	}
	return req, ok
}

// resolvePending delivers a dispatcher-generated result for an entry already
// removed from the table
func (d *Dispatcher) resolvePending(requestID string, req *pendingRequest, result *types.ProbeResult) {
	metrics.PendingRequests.Dec()
	result.DurationMs = time.Since(req.started).Milliseconds()
	req.respCh <- result

	d.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventProbeFailed,
		Message: fmt.Sprintf("probe %s failed: %s", req.probe, result.Error),
		Metadata: map[string]string{
			"agent_id":   req.agentID,
			"request_id": requestID,
			"probe":      req.probe,
		},
	})
}

func (d *Dispatcher) observeResult(probe string, result *types.ProbeResult, started time.Time) {
	metrics.ProbeDispatchesTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.ProbeDispatchDuration.WithLabelValues(probe).Observe(time.Since(started).Seconds())
}

// monitor periodically degrades agents whose heartbeats have gone silent
func (d *Dispatcher) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweepStale()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) sweepStale() {
	now := time.Now()
	var degraded []*connection
	var dead []string

	d.mu.Lock()
	for _, conn := range d.byID {
		switch {
		case conn.status == types.AgentStatusOnline && now.Sub(conn.lastSeen) > d.heartbeatTimeout:
			conn.status = types.AgentStatusDegraded
			degraded = append(degraded, conn)
		case conn.status == types.AgentStatusDegraded && now.Sub(conn.lastSeen) > 2*d.heartbeatTimeout:
			// Silent through a second interval: tear the socket down and
			// go offline.
			dead = append(dead, conn.agentID)
		}
	}
	d.mu.Unlock()

	for _, agentID := range dead {
		d.logger.Warn().Str("agent_id", agentID).Msg("agent silent past degraded window, disconnecting")
		d.Disconnect(agentID)
	}

	for _, conn := range degraded {
		metrics.AgentsConnected.WithLabelValues(string(types.AgentStatusOnline)).Dec()
		metrics.AgentsConnected.WithLabelValues(string(types.AgentStatusDegraded)).Inc()
		d.persistStatus(conn.agentID, types.AgentStatusDegraded, conn.lastSeen)

		d.logger.Warn().
			Str("agent_id", conn.agentID).
			Str("name", conn.name).
			Time("last_seen", conn.lastSeen).
			Msg("agent degraded, no heartbeat")

		d.broker.Publish(&events.Event{
			ID:      uuid.New().String(),
			Type:    events.EventAgentDegraded,
			Message: fmt.Sprintf("agent %s missed heartbeats", conn.name),
			Metadata: map[string]string{
				"agent_id": conn.agentID,
				"name":     conn.name,
			},
		})
	}
}

func (d *Dispatcher) persistStatus(agentID string, status types.AgentStatus, lastSeen time.Time) {
	agent, err := d.store.GetAgent(agentID)
	if err != nil {
		d.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to load agent for status update")
		return
	}
	agent.Status = status
	agent.LastSeen = lastSeen
	if err := d.store.UpdateAgent(agent); err != nil {
		d.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to persist agent status")
	}
}

func (d *Dispatcher) persistLastSeen(agentID string, lastSeen time.Time) {
	agent, err := d.store.GetAgent(agentID)
	if err != nil {
		return
	}
	agent.Status = types.AgentStatusOnline
	agent.LastSeen = lastSeen
	_ = d.store.UpdateAgent(agent)
}

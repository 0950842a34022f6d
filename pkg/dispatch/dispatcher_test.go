package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

// fakeConn is an in-memory AgentConn capturing sent envelopes
type fakeConn struct {
	mu        sync.Mutex
	sent      []*types.Envelope
	sendErr   error
	onRequest func(req *types.ProbeRequestPayload)
	closed    bool
}

func (c *fakeConn) Send(env *types.Envelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	onRequest := c.onRequest
	sendErr := c.sendErr
	c.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	if env.Type == types.MsgProbeRequest && onRequest != nil {
		var req types.ProbeRequestPayload
		if err := json.Unmarshal(env.Payload, &req); err == nil {
			go onRequest(&req)
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) lastRequest(t *testing.T) *types.ProbeRequestPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no envelopes sent")
	var req types.ProbeRequestPayload
	require.NoError(t, json.Unmarshal(c.sent[len(c.sent)-1].Payload, &req))
	return &req
}

func newTestDispatcher(t *testing.T) (*Dispatcher, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	d := NewDispatcher(store, broker, WithDefaultTimeout(200*time.Millisecond))
	return d, store
}

func createAgent(t *testing.T, store storage.Store, id, name string) {
	t.Helper()
	require.NoError(t, store.CreateAgent(&types.Agent{
		ID:     id,
		Name:   name,
		Status: types.AgentStatusOffline,
	}))
}

// TestExecuteOfflineAgent tests that dispatching to an enrolled but
// disconnected agent fails immediately without touching a connection
func TestExecuteOfflineAgent(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	start := time.Now()
	_, err := d.Execute(context.Background(), "web-01", &types.ProbeRequest{Probe: "agent.ping"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAgentOffline), "err = %v", err)
	// No timeout was waited out
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

// TestExecuteUnknownAgent tests the not-found path
func TestExecuteUnknownAgent(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Execute(context.Background(), "ghost", &types.ProbeRequest{Probe: "agent.ping"})
	assert.True(t, errors.Is(err, ErrAgentNotFound), "err = %v", err)
}

// TestExecuteSuccess tests the full request/response correlation
func TestExecuteSuccess(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	conn := &fakeConn{}
	conn.onRequest = func(req *types.ProbeRequestPayload) {
		d.HandleResponse(req.RequestID, &types.ProbeResponsePayload{
			RequestID:  req.RequestID,
			Status:     types.ProbeStatusSuccess,
			Data:       json.RawMessage(`{"pong":true}`),
			DurationMs: 3,
		})
	}
	require.NoError(t, d.Register("a1", "web-01", conn))

	result, err := d.Execute(context.Background(), "web-01", &types.ProbeRequest{Probe: "agent.ping"})
	require.NoError(t, err)
	assert.Equal(t, types.ProbeStatusSuccess, result.Status)
	assert.JSONEq(t, `{"pong":true}`, string(result.Data))
	assert.Equal(t, 0, d.PendingCount())
}

// TestExecuteTimeout tests that a never-responding agent yields exactly one
// timeout result and leaves no pending entry
func TestExecuteTimeout(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	conn := &fakeConn{} // never responds
	require.NoError(t, d.Register("a1", "web-01", conn))

	result, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{
		Probe:     "slow.probe",
		TimeoutMs: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ProbeStatusTimeout, result.Status)
	assert.Equal(t, 0, d.PendingCount())

	// A response arriving after the timeout is dropped silently
	req := conn.lastRequest(t)
	d.HandleResponse(req.RequestID, &types.ProbeResponsePayload{
		RequestID: req.RequestID,
		Status:    types.ProbeStatusSuccess,
	})
	assert.Equal(t, 0, d.PendingCount())
}

// TestExecuteSendFailure tests that a broken connection surfaces as an
// error with the pending entry cleaned up
func TestExecuteSendFailure(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	conn := &fakeConn{sendErr: errors.New("broken pipe")}
	require.NoError(t, d.Register("a1", "web-01", conn))

	_, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{Probe: "agent.ping"})
	require.Error(t, err)
	assert.Equal(t, 0, d.PendingCount())
}

// TestDisconnectFailsPending tests that dropping a connection resolves
// every in-flight request for that agent at once
func TestDisconnectFailsPending(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	conn := &fakeConn{} // never responds
	require.NoError(t, d.Register("a1", "web-01", conn))

	results := make(chan *types.ProbeResult, 3)
	for i := 0; i < 3; i++ {
		go func() {
			result, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{
				Probe:     "slow.probe",
				TimeoutMs: 5000,
			})
			if err == nil {
				results <- result
			}
		}()
	}

	// Wait for all three to be pending, then drop the connection
	deadline := time.Now().Add(time.Second)
	for d.PendingCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("requests never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Disconnect("a1")

	for i := 0; i < 3; i++ {
		select {
		case result := <-results:
			assert.Equal(t, types.ProbeStatusError, result.Status)
			assert.Contains(t, result.Error, "disconnected")
		case <-time.After(time.Second):
			t.Fatal("pending request never resolved after disconnect")
		}
	}
	assert.Equal(t, 0, d.PendingCount())
	assert.Equal(t, types.AgentStatusOffline, d.Status("a1"))
}

// TestStatusTransitions tests the registry's view of agent status
func TestStatusTransitions(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	assert.Equal(t, types.AgentStatusOffline, d.Status("a1"))

	conn := &fakeConn{}
	require.NoError(t, d.Register("a1", "web-01", conn))
	assert.Equal(t, types.AgentStatusOnline, d.Status("a1"))
	assert.Equal(t, 1, d.ConnectedCount())

	d.Disconnect("a1")
	assert.Equal(t, types.AgentStatusOffline, d.Status("a1"))
	assert.Equal(t, 0, d.ConnectedCount())
	assert.True(t, conn.closed)

	// Persisted status follows the live view
	agent, err := store.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, agent.Status)
}

// TestRegisterReplacesStaleConnection tests that a reconnecting agent does
// not wait for its half-open predecessor to error out
func TestRegisterReplacesStaleConnection(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	stale := &fakeConn{} // never responds
	require.NoError(t, d.Register("a1", "web-01", stale))

	// Leave a request in flight on the stale socket
	result := make(chan *types.ProbeResult, 1)
	go func() {
		r, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{
			Probe:     "slow.probe",
			TimeoutMs: 5000,
		})
		if err == nil {
			result <- r
		}
	}()
	deadline := time.Now().Add(time.Second)
	for d.PendingCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fresh := &fakeConn{}
	require.NoError(t, d.Register("a1", "web-01", fresh))

	assert.True(t, stale.closed, "stale connection not torn down")
	assert.Equal(t, types.AgentStatusOnline, d.Status("a1"))
	assert.Equal(t, 1, d.ConnectedCount())

	select {
	case r := <-result:
		assert.Equal(t, types.ProbeStatusError, r.Status)
	case <-time.After(time.Second):
		t.Fatal("in-flight request on stale connection never resolved")
	}

	// The fresh connection carries traffic
	fresh.mu.Lock()
	fresh.onRequest = func(req *types.ProbeRequestPayload) {
		d.HandleResponse(req.RequestID, &types.ProbeResponsePayload{
			RequestID: req.RequestID,
			Status:    types.ProbeStatusSuccess,
		})
	}
	fresh.mu.Unlock()
	r, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{Probe: "agent.ping"})
	require.NoError(t, err)
	assert.Equal(t, types.ProbeStatusSuccess, r.Status)
}

// TestExecuteDegradedAgent tests that a degraded agent is refused before any
// frame is sent
func TestExecuteDegradedAgent(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	conn := &fakeConn{}
	require.NoError(t, d.Register("a1", "web-01", conn))

	d.mu.Lock()
	d.byID["a1"].status = types.AgentStatusDegraded
	d.mu.Unlock()

	start := time.Now()
	_, err := d.Execute(context.Background(), "a1", &types.ProbeRequest{
		Probe:     "agent.ping",
		TimeoutMs: 150,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAgentOffline), "err = %v", err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "waited out the deadline")

	conn.mu.Lock()
	sent := len(conn.sent)
	conn.mu.Unlock()
	assert.Zero(t, sent, "frame sent to a non-online agent")
}

// TestHeartbeatRecoversDegraded tests degraded -> online on heartbeat
func TestHeartbeatRecoversDegraded(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")

	require.NoError(t, d.Register("a1", "web-01", &fakeConn{}))

	d.mu.Lock()
	d.byID["a1"].status = types.AgentStatusDegraded
	d.mu.Unlock()

	d.Heartbeat("a1")
	assert.Equal(t, types.AgentStatusOnline, d.Status("a1"))
}

// TestSweepStaleMarksDegraded tests the heartbeat monitor's sweep
func TestSweepStaleMarksDegraded(t *testing.T) {
	d, store := newTestDispatcher(t)
	createAgent(t, store, "a1", "web-01")
	d.heartbeatTimeout = 10 * time.Millisecond

	conn := &fakeConn{}
	require.NoError(t, d.Register("a1", "web-01", conn))
	time.Sleep(30 * time.Millisecond)

	d.sweepStale()
	assert.Equal(t, types.AgentStatusDegraded, d.Status("a1"))

	agent, err := store.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusDegraded, agent.Status)

	// A second silent interval tears the socket down: degraded -> offline
	d.sweepStale()
	assert.Equal(t, types.AgentStatusOffline, d.Status("a1"))
	assert.True(t, conn.closed, "dead socket left open")
	assert.Equal(t, 0, d.ConnectedCount())

	agent, err = store.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, agent.Status)
}

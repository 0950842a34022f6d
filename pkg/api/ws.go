package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/security"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	registerDeadline = 10 * time.Second
	writeDeadline    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Agents are not browsers; origin checks do not apply
		return true
	},
}

// wsConn adapts a websocket connection to the dispatcher's AgentConn.
// Writes are serialized; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Send(env *types.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handleAgentSocket is the agent's persistent connection endpoint. The first
// frame must be agent.register carrying the enrollment-issued certificate;
// the hub verifies the CA chain and the pinned fingerprint before accepting.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	agent, ok := s.registerAgent(conn)
	if !ok {
		conn.Close()
		return
	}

	ws := &wsConn{conn: conn}
	if err := s.hub.Dispatcher().Register(agent.ID, agent.Name, ws); err != nil {
		_ = writeEnvelope(ws, types.MsgHubReject, &types.RejectPayload{Reason: err.Error()})
		conn.Close()
		return
	}

	if err := writeEnvelope(ws, types.MsgHubAck, &types.AckPayload{AgentID: agent.ID}); err != nil {
		s.hub.Dispatcher().Disconnect(agent.ID)
		return
	}

	s.readLoop(conn, agent.ID)
	s.hub.Dispatcher().Disconnect(agent.ID)
}

// registerAgent reads and verifies the register frame, returning the stored
// agent record on success. Rejections are written to the socket.
func (s *Server) registerAgent(conn *websocket.Conn) (*types.Agent, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(registerDeadline))

	var env types.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		s.logger.Debug().Err(err).Msg("failed to read register frame")
		return nil, false
	}
	if env.Type != types.MsgAgentRegister {
		s.reject(conn, "", "first frame must be agent.register")
		return nil, false
	}

	var payload types.RegisterPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.reject(conn, "", "malformed register payload")
		return nil, false
	}

	agent, err := s.hub.Store().GetAgentByName(payload.Name)
	if err != nil {
		s.reject(conn, payload.Name, "unknown agent")
		return nil, false
	}

	if !security.VerifyCertAgainstCA(payload.CertPEM, s.hub.CA().CACertPEM()) {
		s.reject(conn, payload.Name, "certificate not issued by this hub")
		return nil, false
	}

	fingerprint, err := security.CertFingerprint(payload.CertPEM)
	if err != nil || fingerprint != agent.CertFingerprint {
		s.reject(conn, payload.Name, "certificate fingerprint mismatch")
		return nil, false
	}

	// Attestation drift is recorded but does not block the connection
	if payload.Attestation != "" && agent.Attestation != "" && payload.Attestation != agent.Attestation {
		agent.AttestationMismatch = true
	}
	agent.OS = payload.OS
	agent.AgentVersion = payload.AgentVersion
	agent.Packs = payload.Packs
	if err := s.hub.Store().UpdateAgent(agent); err != nil {
		s.logger.Error().Err(err).Str("agent", agent.Name).Msg("failed to update agent on register")
	}

	_ = conn.SetReadDeadline(time.Time{})
	return agent, true
}

func (s *Server) reject(conn *websocket.Conn, name, reason string) {
	env, err := types.NewEnvelope(types.MsgHubReject, &types.RejectPayload{Reason: reason})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = conn.WriteJSON(env)
	}

	s.logger.Warn().Str("agent", name).Str("reason", reason).Msg("agent registration rejected")
	s.hub.Broker().Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventAgentRejected,
		Message: "agent registration rejected: " + reason,
		Metadata: map[string]string{
			"name":   name,
			"reason": reason,
		},
	})
}

// readLoop consumes frames from a registered agent until the connection
// drops
func (s *Server) readLoop(conn *websocket.Conn, agentID string) {
	for {
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case types.MsgAgentHeartbeat:
			s.hub.Dispatcher().Heartbeat(agentID)

		case types.MsgProbeResponse, types.MsgProbeError:
			var payload types.ProbeResponsePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				s.logger.Debug().Err(err).Str("agent_id", agentID).Msg("malformed probe response")
				continue
			}
			s.hub.Dispatcher().HandleResponse(payload.RequestID, &payload)

		default:
			s.logger.Debug().
				Str("agent_id", agentID).
				Str("type", string(env.Type)).
				Msg("ignoring unexpected frame")
		}
	}
}

func writeEnvelope(c *wsConn, t types.MessageType, payload interface{}) error {
	env, err := types.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

package types

import "encoding/json"

// MessageType identifies a frame on the persistent agent connection
type MessageType string

const (
	// agent -> hub
	MsgAgentRegister  MessageType = "agent.register"
	MsgAgentHeartbeat MessageType = "agent.heartbeat"
	MsgProbeResponse  MessageType = "probe.response"
	MsgProbeError     MessageType = "probe.error"

	// hub -> agent
	MsgHubAck       MessageType = "hub.ack"
	MsgHubReject    MessageType = "hub.reject"
	MsgProbeRequest MessageType = "probe.request"
)

// Envelope is the JSON frame exchanged over an agent connection. Payload
// decodes into the message-type-specific struct below.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type
func NewEnvelope(t MessageType, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Payload: data}, nil
}

// RegisterPayload is sent by an agent immediately after connecting. CertPEM
// is the enrollment-issued leaf certificate; the hub re-derives its
// fingerprint and compares it to the stored one before accepting.
type RegisterPayload struct {
	Name         string   `json:"name"`
	OS           string   `json:"os"`
	AgentVersion string   `json:"agent_version"`
	Packs        []string `json:"packs,omitempty"`
	CertPEM      []byte   `json:"cert_pem"`
	Attestation  string   `json:"attestation,omitempty"`
}

// AckPayload accepts a registration
type AckPayload struct {
	AgentID string `json:"agent_id"`
}

// RejectPayload refuses a registration with a reason (e.g. fingerprint
// mismatch, unknown agent, certificate not issued by this hub)
type RejectPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatPayload is sent periodically by a connected agent
type HeartbeatPayload struct {
	AgentVersion string `json:"agent_version,omitempty"`
}

// ProbeRequestPayload asks an agent to run one probe
type ProbeRequestPayload struct {
	RequestID string          `json:"request_id"`
	Probe     string          `json:"probe"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int64           `json:"timeout_ms"`
}

// ProbeResponsePayload carries a completed probe's result back to the hub
type ProbeResponsePayload struct {
	RequestID  string          `json:"request_id"`
	Status     ProbeStatus     `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

package types

import (
	"encoding/json"
	"time"
)

// HubCA is the hub's self-signed trust root. It is created lazily exactly
// once, persisted in the store, and used to sign every agent leaf
// certificate for the lifetime of the hub.
type HubCA struct {
	CertPEM   []byte    `json:"cert_pem"`
	KeyPEM    []byte    `json:"key_pem"` // encrypted at rest (AES-256-GCM)
	CreatedAt time.Time `json:"created_at"`
}

// EnrollmentToken is a single-use, time-limited credential that authorizes
// issuance of one agent certificate. Setting UsedAt is irreversible.
type EnrollmentToken struct {
	Token       string     `json:"token"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	UsedByAgent string     `json:"used_by_agent,omitempty"`
}

// AgentStatus represents the connection state of an agent
type AgentStatus string

const (
	AgentStatusOnline   AgentStatus = "online"
	AgentStatusOffline  AgentStatus = "offline"
	AgentStatusDegraded AgentStatus = "degraded"
)

// Agent represents a managed host's process that executes probes and
// reports results to the hub. Identity fields (CertFingerprint, CertPEM)
// are set once at enrollment and re-validated on every reconnect.
type Agent struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"` // unique
	Status              AgentStatus `json:"status"`
	LastSeen            time.Time   `json:"last_seen"`
	OS                  string      `json:"os"`
	AgentVersion        string      `json:"agent_version"`
	Packs               []string    `json:"packs,omitempty"`
	CertFingerprint     string      `json:"cert_fingerprint"`
	CertPEM             []byte      `json:"cert_pem"`
	Attestation         string      `json:"attestation,omitempty"`
	AttestationMismatch bool        `json:"attestation_mismatch"`
	EnrolledAt          time.Time   `json:"enrolled_at"`
}

// Session represents an authenticated operator login. ExpiresAt slides
// forward on every authenticated request; expired sessions are removed by
// a periodic sweep.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	AuthMethod  string    `json:"auth_method"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// APIKeyType distinguishes caller keys from agent keys
type APIKeyType string

const (
	APIKeyTypeMCP   APIKeyType = "mcp"
	APIKeyTypeAgent APIKeyType = "agent"
)

// APIKeyPolicy holds the optional per-key allow-lists. An empty or absent
// list is unrestricted on that axis. Agents match exactly; probes match
// against glob patterns (`*` only, full-string anchored).
type APIKeyPolicy struct {
	AllowedAgents  []string `json:"allowed_agents,omitempty"`
	AllowedProbes  []string `json:"allowed_probes,omitempty"`
	AllowedClients []string `json:"allowed_clients,omitempty"`
}

// APIKey is an issued caller credential. Immutable after creation except
// for revocation and last-used bookkeeping.
type APIKey struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	KeyHash    string       `json:"key_hash"` // bcrypt of the secret half
	Policy     APIKeyPolicy `json:"policy"`
	RoleID     string       `json:"role_id"`
	KeyType    APIKeyType   `json:"key_type"`
	OwnerID    string       `json:"owner_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
}

// AccessGroup scopes what a user may see: agent-name glob patterns plus
// explicit integration ids. A user with no group assignment has
// unrestricted visibility.
type AccessGroup struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	AgentPatterns  []string `json:"agent_patterns,omitempty"`
	IntegrationIDs []string `json:"integration_ids,omitempty"`
	UserIDs        []string `json:"user_ids,omitempty"`
}

// User is a minimal operator record backing session logins
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProbeStatus is the terminal outcome of a dispatched probe
type ProbeStatus string

const (
	ProbeStatusSuccess ProbeStatus = "success"
	ProbeStatusError   ProbeStatus = "error"
	ProbeStatusTimeout ProbeStatus = "timeout"
	ProbeStatusDenied  ProbeStatus = "denied"
)

// ProbeRequest is a single probe invocation as submitted by a caller
type ProbeRequest struct {
	Probe     string          `json:"probe"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
}

// ProbeResult is the hub-side resolution of a dispatched probe. Exactly one
// of Data or Error is meaningful depending on Status.
type ProbeResult struct {
	RequestID  string          `json:"request_id"`
	Status     ProbeStatus     `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// AuditEntry is one hash-linked record of a dispatched probe's outcome.
// Hash covers a canonical serialization of every other field plus PrevHash;
// the first entry ever logged carries PrevHash == "".
type AuditEntry struct {
	Sequence      uint64      `json:"sequence"`
	Timestamp     time.Time   `json:"timestamp"`
	APIKeyID      string      `json:"api_key_id,omitempty"`
	AgentOrSource string      `json:"agent_or_source"`
	Probe         string      `json:"probe"`
	Status        ProbeStatus `json:"status"`
	DurationMs    int64       `json:"duration_ms"`
	RequestJSON   string      `json:"request_json,omitempty"`
	ResponseJSON  string      `json:"response_json,omitempty"`
	PrevHash      string      `json:"prev_hash"`
	Hash          string      `json:"hash"`
}

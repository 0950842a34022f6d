package storage

import (
	"errors"
	"time"

	"github.com/outpost-sh/outpost/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrTokenUsed is returned when redeeming an already-consumed token
	ErrTokenUsed = errors.New("enrollment token already used")

	// ErrTokenExpired is returned when redeeming an expired token
	ErrTokenExpired = errors.New("enrollment token expired")

	// ErrDuplicateName is returned when creating an agent whose name is taken
	ErrDuplicateName = errors.New("agent name already exists")
)

// Store defines the interface for hub state storage.
// Implemented by BoltDB-backed storage; injected into the CA, enrollment
// service, auth layer, and hub so they never touch ambient global state.
type Store interface {
	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	GetAgentByName(name string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error
	DeleteAgent(id string) error

	// Enrollment tokens
	CreateEnrollmentToken(token *types.EnrollmentToken) error
	GetEnrollmentToken(token string) (*types.EnrollmentToken, error)
	ListEnrollmentTokens() ([]*types.EnrollmentToken, error)
	// RedeemEnrollmentToken marks a token used by agentName inside a single
	// write transaction. Exactly one concurrent redeemer succeeds; later
	// attempts observe ErrTokenUsed (or ErrTokenExpired / ErrNotFound).
	RedeemEnrollmentToken(token, agentName string, now time.Time) (*types.EnrollmentToken, error)
	DeleteEnrollmentToken(token string) error

	// API keys
	CreateAPIKey(key *types.APIKey) error
	GetAPIKey(id string) (*types.APIKey, error)
	ListAPIKeys() ([]*types.APIKey, error)
	UpdateAPIKey(key *types.APIKey) error
	DeleteAPIKey(id string) error

	// Sessions
	CreateSession(session *types.Session) error
	GetSession(id string) (*types.Session, error)
	UpdateSession(session *types.Session) error
	DeleteSession(id string) error
	ListSessions() ([]*types.Session, error)

	// Access groups
	CreateAccessGroup(group *types.AccessGroup) error
	GetAccessGroup(id string) (*types.AccessGroup, error)
	ListAccessGroups() ([]*types.AccessGroup, error)
	ListAccessGroupsForUser(userID string) ([]*types.AccessGroup, error)
	UpdateAccessGroup(group *types.AccessGroup) error
	DeleteAccessGroup(id string) error

	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	ListUsers() ([]*types.User, error)

	// Certificate authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}

package enroll

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/security"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
	"github.com/rs/zerolog"
)

// Credentials is the result of a successful enrollment: the agent's leaf
// certificate and key plus the hub CA certificate for server verification.
type Credentials struct {
	AgentID   string `json:"agent_id"`
	CertPEM   []byte `json:"cert_pem"`
	KeyPEM    []byte `json:"key_pem"`
	CACertPEM []byte `json:"ca_cert_pem"`
}

// Service gates leaf-certificate issuance behind single-use, expiring
// tokens. Redemption binds the token to the agent identity that consumed it.
type Service struct {
	store  storage.Store
	ca     *security.CertAuthority
	logger zerolog.Logger
}

// NewService creates an enrollment service
func NewService(store storage.Store, ca *security.CertAuthority) *Service {
	return &Service{
		store:  store,
		ca:     ca,
		logger: log.WithComponent("enroll"),
	}
}

// CreateToken mints a new enrollment token valid for the given duration
func (s *Service) CreateToken(ttl time.Duration) (*types.EnrollmentToken, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}

	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	now := time.Now()
	token := &types.EnrollmentToken{
		Token:     hex.EncodeToString(bytes),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.store.CreateEnrollmentToken(token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Info().Time("expires_at", token.ExpiresAt).Msg("enrollment token created")
	return token, nil
}

// ListTokens returns all known tokens, consumed ones included
func (s *Service) ListTokens() ([]*types.EnrollmentToken, error) {
	return s.store.ListEnrollmentTokens()
}

// Redeem consumes a token exactly once and issues the agent's leaf
// certificate. The token is marked used and the Agent record created with
// the certificate fingerprint pinned, all before credentials are returned.
// A concurrent second redemption of the same token deterministically fails
// with storage.ErrTokenUsed.
func (s *Service) Redeem(token, commonName, osName, agentVersion, attestation string) (*Credentials, error) {
	if commonName == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	// Check the name before consuming the token so a rejected enrollment
	// does not burn it. CreateAgent re-checks under its own transaction.
	if _, err := s.store.GetAgentByName(commonName); err == nil {
		return nil, fmt.Errorf("agent %q: %w", commonName, storage.ErrDuplicateName)
	}

	if _, err := s.store.RedeemEnrollmentToken(token, commonName, time.Now()); err != nil {
		return nil, err
	}

	if err := s.ca.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to initialize CA: %w", err)
	}

	certPEM, keyPEM, err := s.ca.IssueAgentCert(commonName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue agent certificate: %w", err)
	}

	fingerprint, err := security.CertFingerprint(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint certificate: %w", err)
	}

	now := time.Now()
	agent := &types.Agent{
		ID:              uuid.New().String(),
		Name:            commonName,
		Status:          types.AgentStatusOffline,
		OS:              osName,
		AgentVersion:    agentVersion,
		CertFingerprint: fingerprint,
		CertPEM:         certPEM,
		Attestation:     attestation,
		EnrolledAt:      now,
		LastSeen:        now,
	}

	if err := s.store.CreateAgent(agent); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	s.logger.Info().
		Str("agent", commonName).
		Str("fingerprint", fingerprint).
		Msg("agent enrolled")

	return &Credentials{
		AgentID:   agent.ID,
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		CACertPEM: s.ca.CACertPEM(),
	}, nil
}

// CleanupExpiredTokens removes unused tokens past their expiry
func (s *Service) CleanupExpiredTokens() error {
	tokens, err := s.store.ListEnrollmentTokens()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, token := range tokens {
		if token.UsedAt == nil && now.After(token.ExpiresAt) {
			if err := s.store.DeleteEnrollmentToken(token.Token); err != nil {
				return err
			}
		}
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	// sweepInterval is how often expired sessions are purged
	sweepInterval = 1 * time.Minute

	// tokenHardCap bounds a JWT's own expiry. The session row is the
	// authoritative expiry; the cap only limits damage from a leaked token
	// whose session row was deleted out of band.
	tokenHardCap = 30 * 24 * time.Hour
)

var (
	// ErrSessionExpired is returned when the session row has lapsed
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidToken is returned for malformed or mis-signed tokens
	ErrInvalidToken = errors.New("invalid session token")
)

// sessionClaims is the JWT payload for operator sessions. The token carries
// only the session id; role and expiry live in the store.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionManager issues and validates operator sessions backed by the store
type SessionManager struct {
	store    storage.Store
	broker   *events.Broker
	secret   []byte
	ttl      time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a session manager signing tokens with secret
func NewSessionManager(store storage.Store, broker *events.Broker, secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		store:  store,
		broker: broker,
		secret: []byte(secret),
		ttl:    ttl,
		logger: log.WithComponent("auth"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the expired-session sweep loop
func (m *SessionManager) Start() {
	go m.sweep()
}

// Stop halts the sweep loop
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Login verifies the user's password and creates a session, returning the
// signed token.
func (m *SessionManager) Login(email, password string) (string, *types.Session, error) {
	user, err := m.store.GetUserByEmail(email)
	if err != nil {
		// Uniform failure for unknown user and bad password
		return "", nil, fmt.Errorf("invalid credentials")
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", nil, fmt.Errorf("invalid credentials")
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Role:        user.Role,
		AuthMethod:  "password",
		Email:       user.Email,
		DisplayName: user.DisplayName,
		ExpiresAt:   time.Now().Add(m.ttl),
	}
	if err := m.store.CreateSession(session); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := m.sign(session.ID)
	if err != nil {
		_ = m.store.DeleteSession(session.ID)
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	m.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", session.ID).
		Msg("session created")

	m.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventSessionCreated,
		Message: fmt.Sprintf("session created for %s", user.Email),
		Metadata: map[string]string{
			"user_id":    user.ID,
			"session_id": session.ID,
		},
	})
	return token, session, nil
}

// Validate parses the token, loads the backing session, and slides its
// expiry forward. The store row is authoritative; a deleted or expired row
// invalidates an otherwise well-formed token.
func (m *SessionManager) Validate(token string) (*types.Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	session, err := m.store.GetSession(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if time.Now().After(session.ExpiresAt) {
		_ = m.store.DeleteSession(session.ID)
		return nil, ErrSessionExpired
	}

	// Sliding expiry
	session.ExpiresAt = time.Now().Add(m.ttl)
	if err := m.store.UpdateSession(session); err != nil {
		m.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to slide session expiry")
	}
	return session, nil
}

// Logout deletes the session behind the token. Invalid tokens are a no-op.
func (m *SessionManager) Logout(token string) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return
	}
	_ = m.store.DeleteSession(claims.SessionID)
}

func (m *SessionManager) sign(sessionID string) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenHardCap)),
			Issuer:    "outpost-hub",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *SessionManager) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *SessionManager) sweepExpired() {
	sessions, err := m.store.ListSessions()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list sessions for sweep")
		return
	}
	now := time.Now()
	for _, s := range sessions {
		if now.After(s.ExpiresAt) {
			if err := m.store.DeleteSession(s.ID); err != nil {
				continue
			}
			m.broker.Publish(&events.Event{
				ID:      uuid.New().String(),
				Type:    events.EventSessionExpired,
				Message: fmt.Sprintf("session for %s expired", s.Email),
				Metadata: map[string]string{
					"user_id":    s.UserID,
					"session_id": s.ID,
				},
			})
		}
	}
}

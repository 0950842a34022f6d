package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/outpost-sh/outpost/pkg/types"
)

// CallerType distinguishes how a request was authenticated
type CallerType string

const (
	CallerSession CallerType = "session"
	CallerAPIKey  CallerType = "api_key"
)

// Caller is the authenticated identity attached to a request after the
// middleware has verified a session token or API key. Authorization layers
// downstream consume it without re-touching credentials.
type Caller struct {
	Type   CallerType
	Role   string
	UserID string

	// API-key callers only
	KeyID  string
	Policy types.APIKeyPolicy

	// Session callers only
	SessionID string
	Email     string
}

// CallerFromSession builds a Caller for a validated operator session
func CallerFromSession(s *types.Session) *Caller {
	return &Caller{
		Type:      CallerSession,
		Role:      s.Role,
		UserID:    s.UserID,
		SessionID: s.ID,
		Email:     s.Email,
	}
}

// CallerFromAPIKey builds a Caller for a verified API key
func CallerFromAPIKey(k *types.APIKey) *Caller {
	return &Caller{
		Type:   CallerAPIKey,
		Role:   k.RoleID,
		UserID: k.OwnerID,
		KeyID:  k.ID,
		Policy: k.Policy,
	}
}

// Source identifies the caller for audit entries
func (c *Caller) Source() string {
	if c.Type == CallerSession {
		return "session:" + c.Email
	}
	return "apikey:" + c.KeyID
}

// HashPassword bcrypt-hashes a user password for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored bcrypt hash with a candidate password
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

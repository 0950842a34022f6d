package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	// keyPrefix marks Outpost API keys so leaked-credential scanners can
	// recognize them
	keyPrefix = "okp"

	keySecretBytes = 32
)

var (
	// ErrKeyRevoked is returned when presenting a revoked key
	ErrKeyRevoked = errors.New("api key revoked")

	// ErrKeyExpired is returned when presenting an expired key
	ErrKeyExpired = errors.New("api key expired")

	// ErrInvalidKey is returned for malformed or unverifiable keys
	ErrInvalidKey = errors.New("invalid api key")
)

// APIKeyManager issues and verifies API keys. The presented key embeds its
// record id ("okp_<id>.<secret>") so verification is a single lookup plus
// one bcrypt comparison rather than a scan over every stored hash.
type APIKeyManager struct {
	store storage.Store
}

// NewAPIKeyManager creates an API key manager backed by the store
func NewAPIKeyManager(store storage.Store) *APIKeyManager {
	return &APIKeyManager{store: store}
}

// Create mints a new API key. The returned plaintext is shown once and
// never stored; only its bcrypt hash persists.
func (m *APIKeyManager) Create(name, roleID string, keyType types.APIKeyType, policy types.APIKeyPolicy, ownerID string, expiresAt *time.Time) (*types.APIKey, string, error) {
	secretBytes := make([]byte, keySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key secret: %w", err)
	}

	key := &types.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   string(hash),
		Policy:    policy,
		RoleID:    roleID,
		KeyType:   keyType,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	if err := m.store.CreateAPIKey(key); err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}

	plaintext := fmt.Sprintf("%s_%s.%s", keyPrefix, key.ID, secret)
	return key, plaintext, nil
}

// Verify resolves a presented key to its stored record, checking revocation
// and expiry, and stamps last-used.
func (m *APIKeyManager) Verify(presented string) (*types.APIKey, error) {
	id, secret, err := splitKey(presented)
	if err != nil {
		return nil, err
	}

	key, err := m.store.GetAPIKey(id)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
		return nil, ErrInvalidKey
	}
	if key.RevokedAt != nil {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrKeyExpired
	}

	now := time.Now()
	key.LastUsedAt = &now
	_ = m.store.UpdateAPIKey(key)
	return key, nil
}

// Revoke marks a key revoked. Revocation is permanent.
func (m *APIKeyManager) Revoke(id string) error {
	key, err := m.store.GetAPIKey(id)
	if err != nil {
		return err
	}
	if key.RevokedAt != nil {
		return nil
	}
	now := time.Now()
	key.RevokedAt = &now
	return m.store.UpdateAPIKey(key)
}

// List returns all stored keys. Hashes are included; callers exposing keys
// over an API should blank KeyHash first.
func (m *APIKeyManager) List() ([]*types.APIKey, error) {
	return m.store.ListAPIKeys()
}

func splitKey(presented string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(presented, keyPrefix+"_")
	if !ok {
		return "", "", ErrInvalidKey
	}
	id, secret, ok = strings.Cut(rest, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidKey
	}
	return id, secret, nil
}

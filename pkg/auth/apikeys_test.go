package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

func newTestKeyManager(t *testing.T) *APIKeyManager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewAPIKeyManager(store)
}

// TestAPIKeyCreateAndVerify tests mint and verify round-trip
func TestAPIKeyCreateAndVerify(t *testing.T) {
	m := newTestKeyManager(t)

	key, plaintext, err := m.Create("grafana", "member", types.APIKeyTypeMCP, types.APIKeyPolicy{
		AllowedProbes: []string{"system.*"},
	}, "user-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(plaintext, "okp_") {
		t.Errorf("plaintext %q lacks okp_ prefix", plaintext)
	}
	if strings.Contains(key.KeyHash, plaintext) {
		t.Error("plaintext leaked into stored hash")
	}

	verified, err := m.Verify(plaintext)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != key.ID {
		t.Errorf("verified id = %q, want %q", verified.ID, key.ID)
	}
	if verified.LastUsedAt == nil {
		t.Error("LastUsedAt not stamped on verify")
	}
	if len(verified.Policy.AllowedProbes) != 1 || verified.Policy.AllowedProbes[0] != "system.*" {
		t.Errorf("policy round-trip mismatch: %+v", verified.Policy)
	}
}

// TestAPIKeyVerifyRejectsMalformed tests the parser's failure modes
func TestAPIKeyVerifyRejectsMalformed(t *testing.T) {
	m := newTestKeyManager(t)

	bad := []string{
		"",
		"okp_",
		"okp_justid",
		"okp_.secretonly",
		"okp_id.",
		"wrongprefix_id.secret",
		"okp_nonexistent-id.deadbeef",
	}
	for _, presented := range bad {
		if _, err := m.Verify(presented); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidKey", presented, err)
		}
	}
}

// TestAPIKeyVerifyRejectsWrongSecret tests that a tampered secret fails even
// with a valid key id
func TestAPIKeyVerifyRejectsWrongSecret(t *testing.T) {
	m := newTestKeyManager(t)

	key, _, err := m.Create("ci", "member", types.APIKeyTypeMCP, types.APIKeyPolicy{}, "user-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	forged := "okp_" + key.ID + "." + strings.Repeat("ab", 32)
	if _, err := m.Verify(forged); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("forged secret = %v, want ErrInvalidKey", err)
	}
}

// TestAPIKeyRevoke tests revocation is effective and idempotent
func TestAPIKeyRevoke(t *testing.T) {
	m := newTestKeyManager(t)

	key, plaintext, err := m.Create("ci", "member", types.APIKeyTypeMCP, types.APIKeyPolicy{}, "user-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Revoke(key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Verify(plaintext); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("revoked key verify = %v, want ErrKeyRevoked", err)
	}
	// Second revocation is a no-op
	if err := m.Revoke(key.ID); err != nil {
		t.Errorf("repeat Revoke: %v", err)
	}
	if err := m.Revoke("no-such-id"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoking unknown key = %v, want ErrNotFound", err)
	}
}

// TestAPIKeyExpiry tests expiry enforcement at verification
func TestAPIKeyExpiry(t *testing.T) {
	m := newTestKeyManager(t)

	past := time.Now().Add(-time.Minute)
	_, plaintext, err := m.Create("stale", "member", types.APIKeyTypeMCP, types.APIKeyPolicy{}, "user-1", &past)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Verify(plaintext); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("expired key verify = %v, want ErrKeyExpired", err)
	}
}

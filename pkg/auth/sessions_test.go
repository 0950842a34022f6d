package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

func newTestSessionManager(t *testing.T, ttl time.Duration) (*SessionManager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewSessionManager(store, broker, "unit-test-hub-secret", ttl), store
}

func createTestUser(t *testing.T, store storage.Store, email, password, role string) *types.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &types.User{
		ID:           "u-" + email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

// TestLoginAndValidate tests the session round-trip
func TestLoginAndValidate(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	token, session, err := m.Login("ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || session.Role != "admin" {
		t.Fatalf("unexpected session: token=%q session=%+v", token, session)
	}

	validated, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if validated.ID != session.ID || validated.Email != "ops@example.com" {
		t.Errorf("validated session mismatch: %+v", validated)
	}
}

// TestLoginUniformFailure tests that unknown users and bad passwords are
// indistinguishable
func TestLoginUniformFailure(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	_, _, badUser := m.Login("nobody@example.com", "hunter22")
	_, _, badPass := m.Login("ops@example.com", "wrong")

	if badUser == nil || badPass == nil {
		t.Fatal("bad login accepted")
	}
	if badUser.Error() != badPass.Error() {
		t.Errorf("failure messages differ: %q vs %q", badUser, badPass)
	}
}

// TestValidateRejectsGarbage tests malformed and foreign-signed tokens
func TestValidateRejectsGarbage(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	if _, err := m.Validate("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token = %v, want ErrInvalidToken", err)
	}

	// A token signed by a manager with a different secret is rejected
	other := NewSessionManager(store, m.broker, "some-other-secret", time.Hour)
	token, _, err := other.Login("ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign-signed token = %v, want ErrInvalidToken", err)
	}
}

// TestValidateSlidesExpiry tests that each validation pushes expiry forward
func TestValidateSlidesExpiry(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	token, session, err := m.Login("ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Age the session so the slide is observable
	session.ExpiresAt = time.Now().Add(time.Minute)
	if err := store.UpdateSession(session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if _, err := m.Validate(token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	refreshed, err := store.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !refreshed.ExpiresAt.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry not slid forward: %v", refreshed.ExpiresAt)
	}
}

// TestValidateExpiredSession tests that the store row is authoritative
func TestValidateExpiredSession(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	token, session, err := m.Login("ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	session.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.UpdateSession(session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if _, err := m.Validate(token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("lapsed session = %v, want ErrSessionExpired", err)
	}
	// The lapsed row is deleted on detection
	if _, err := store.GetSession(session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired session row survived: %v", err)
	}
}

// TestLogout tests session deletion by token
func TestLogout(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)
	createTestUser(t, store, "ops@example.com", "hunter22", "admin")

	token, session, err := m.Login("ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.Logout(token)
	if _, err := store.GetSession(session.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("session survived logout: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token valid after logout: %v", err)
	}

	// Garbage tokens are a no-op
	m.Logout("not-a-jwt")
}

// TestSweepExpired tests the background purge
func TestSweepExpired(t *testing.T) {
	m, store := newTestSessionManager(t, time.Hour)

	live := &types.Session{ID: "s-live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	stale := &types.Session{ID: "s-stale", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}
	for _, s := range []*types.Session{live, stale} {
		if err := store.CreateSession(s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	m.sweepExpired()

	if _, err := store.GetSession("s-live"); err != nil {
		t.Errorf("live session swept: %v", err)
	}
	if _, err := store.GetSession("s-stale"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stale session survived sweep: %v", err)
	}
}

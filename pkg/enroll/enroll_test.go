package enroll

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/outpost-sh/outpost/pkg/security"
	"github.com/outpost-sh/outpost/pkg/storage"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	secrets, err := security.NewSecretsManagerFromPassword("test-hub-secret-0123456789")
	if err != nil {
		t.Fatalf("failed to create secrets manager: %v", err)
	}
	return NewService(store, security.NewCertAuthority(store, secrets)), store
}

// TestRedeemIssuesCredentials tests the happy path end to end
func TestRedeemIssuesCredentials(t *testing.T) {
	svc, store := newTestService(t)

	token, err := svc.CreateToken(time.Hour)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if len(token.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token.Token))
	}

	creds, err := svc.Redeem(token.Token, "web-01", "linux", "1.0.0", "sig-abc")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if creds.AgentID == "" || len(creds.CertPEM) == 0 || len(creds.KeyPEM) == 0 || len(creds.CACertPEM) == 0 {
		t.Fatalf("incomplete credentials: %+v", creds)
	}
	if !security.VerifyCertAgainstCA(creds.CertPEM, creds.CACertPEM) {
		t.Error("issued cert does not verify against returned CA")
	}

	agent, err := store.GetAgentByName("web-01")
	if err != nil {
		t.Fatalf("agent not persisted: %v", err)
	}
	fingerprint, _ := security.CertFingerprint(creds.CertPEM)
	if agent.CertFingerprint != fingerprint {
		t.Error("persisted fingerprint does not match issued certificate")
	}
	if agent.Attestation != "sig-abc" {
		t.Errorf("attestation = %q", agent.Attestation)
	}

	stored, _ := store.GetEnrollmentToken(token.Token)
	if stored.UsedAt == nil || stored.UsedByAgent != "web-01" {
		t.Errorf("token not marked consumed: %+v", stored)
	}
}

// TestRedeemSingleUse tests that a consumed token is rejected
func TestRedeemSingleUse(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateToken(time.Hour)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := svc.Redeem(token.Token, "web-01", "linux", "1.0.0", ""); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, err := svc.Redeem(token.Token, "web-02", "linux", "1.0.0", ""); !errors.Is(err, storage.ErrTokenUsed) {
		t.Errorf("second redemption = %v, want ErrTokenUsed", err)
	}
}

// TestRedeemConcurrent tests that concurrent redeemers produce exactly one
// enrolled agent
func TestRedeemConcurrent(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateToken(time.Hour)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	names := []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(token.Token, names[i], "linux", "1.0.0", "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, storage.ErrTokenUsed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

// TestRedeemValidation tests rejection of bad tokens and missing names
func TestRedeemValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Redeem("no-such-token", "web-01", "linux", "1.0.0", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown token = %v, want ErrNotFound", err)
	}

	token, _ := svc.CreateToken(time.Hour)
	if _, err := svc.Redeem(token.Token, "", "linux", "1.0.0", ""); err == nil {
		t.Error("empty agent name accepted")
	}

	if _, err := svc.CreateToken(0); err == nil {
		t.Error("zero ttl accepted")
	}
}

// TestRedeemDuplicateName tests that a second agent cannot claim an
// enrolled name even with a fresh token, and that the rejected token
// survives for a retry under a different name
func TestRedeemDuplicateName(t *testing.T) {
	svc, store := newTestService(t)

	first, _ := svc.CreateToken(time.Hour)
	if _, err := svc.Redeem(first.Token, "web-01", "linux", "1.0.0", ""); err != nil {
		t.Fatalf("first enrollment: %v", err)
	}

	second, _ := svc.CreateToken(time.Hour)
	if _, err := svc.Redeem(second.Token, "web-01", "linux", "1.0.0", ""); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("duplicate name = %v, want ErrDuplicateName", err)
	}

	// The name collision must not consume the token
	stored, err := store.GetEnrollmentToken(second.Token)
	if err != nil {
		t.Fatalf("GetEnrollmentToken: %v", err)
	}
	if stored.UsedAt != nil {
		t.Fatal("rejected enrollment burned the token")
	}
	if _, err := svc.Redeem(second.Token, "web-02", "linux", "1.0.0", ""); err != nil {
		t.Errorf("retry with a fresh name failed: %v", err)
	}
}

// TestCleanupExpiredTokens tests that only expired, unused tokens are removed
func TestCleanupExpiredTokens(t *testing.T) {
	svc, store := newTestService(t)

	live, _ := svc.CreateToken(time.Hour)

	expired, _ := svc.CreateToken(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if err := svc.CleanupExpiredTokens(); err != nil {
		t.Fatalf("CleanupExpiredTokens: %v", err)
	}

	if _, err := store.GetEnrollmentToken(live.Token); err != nil {
		t.Errorf("live token removed: %v", err)
	}
	if _, err := store.GetEnrollmentToken(expired.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired token survived cleanup: %v", err)
	}
}

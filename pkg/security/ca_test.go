package security

import (
	"strings"
	"testing"

	"github.com/outpost-sh/outpost/pkg/storage"
)

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	secrets, err := NewSecretsManagerFromPassword("test-hub-secret-0123456789")
	if err != nil {
		t.Fatalf("failed to create secrets manager: %v", err)
	}

	ca := NewCertAuthority(store, secrets)
	if err := ca.Ensure(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}
	return ca
}

// TestIssueAndVerifyAgentCert tests that issued leaves verify against their
// own CA
func TestIssueAndVerifyAgentCert(t *testing.T) {
	ca := newTestCA(t)

	certPEM, keyPEM, err := ca.IssueAgentCert("web-01")
	if err != nil {
		t.Fatalf("IssueAgentCert: %v", err)
	}
	if len(keyPEM) == 0 {
		t.Fatal("no key material returned")
	}

	if err := ca.VerifyAgentCert(certPEM); err != nil {
		t.Errorf("issued cert failed verification: %v", err)
	}
	if !VerifyCertAgainstCA(certPEM, ca.CACertPEM()) {
		t.Error("issued cert failed package-level verification")
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("failed to parse issued cert: %v", err)
	}
	if cert.Subject.CommonName != "web-01" {
		t.Errorf("common name = %q, want web-01", cert.Subject.CommonName)
	}
	if cert.IsCA {
		t.Error("leaf certificate marked as CA")
	}
}

// TestCrossCARejection tests that a leaf from one hub never verifies
// against another hub's CA
func TestCrossCARejection(t *testing.T) {
	caA := newTestCA(t)
	caB := newTestCA(t)

	certPEM, _, err := caA.IssueAgentCert("web-01")
	if err != nil {
		t.Fatalf("IssueAgentCert: %v", err)
	}

	if VerifyCertAgainstCA(certPEM, caB.CACertPEM()) {
		t.Error("cert issued by CA A verified against CA B")
	}
	if err := caB.VerifyAgentCert(certPEM); err == nil {
		t.Error("foreign cert accepted by VerifyAgentCert")
	}
}

// TestCertFingerprint tests fingerprint determinism and distinctness
func TestCertFingerprint(t *testing.T) {
	ca := newTestCA(t)

	certPEM, _, err := ca.IssueAgentCert("web-01")
	if err != nil {
		t.Fatalf("IssueAgentCert: %v", err)
	}

	fp1, err := CertFingerprint(certPEM)
	if err != nil {
		t.Fatalf("CertFingerprint: %v", err)
	}
	fp2, _ := CertFingerprint(certPEM)
	if fp1 != fp2 {
		t.Error("fingerprint is not deterministic")
	}
	if len(fp1) != 64 || strings.ToLower(fp1) != fp1 {
		t.Errorf("fingerprint %q is not lowercase sha256 hex", fp1)
	}

	otherPEM, _, _ := ca.IssueAgentCert("web-02")
	other, _ := CertFingerprint(otherPEM)
	if other == fp1 {
		t.Error("distinct certs share a fingerprint")
	}
}

// TestCAPersistsAcrossRestart tests that a reloaded CA reuses the stored
// key pair
func TestCAPersistsAcrossRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	secrets, _ := NewSecretsManagerFromPassword("test-hub-secret-0123456789")

	first := NewCertAuthority(store, secrets)
	if err := first.Ensure(); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	certPEM, _, err := first.IssueAgentCert("web-01")
	if err != nil {
		t.Fatalf("IssueAgentCert: %v", err)
	}

	// A new CA instance over the same store must load the same root
	second := NewCertAuthority(store, secrets)
	if err := second.Ensure(); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if string(first.CACertPEM()) != string(second.CACertPEM()) {
		t.Error("reloaded CA has a different root certificate")
	}
	if err := second.VerifyAgentCert(certPEM); err != nil {
		t.Errorf("reloaded CA rejects previously issued cert: %v", err)
	}
}

// TestAgentCredentialsRoundTrip tests saving and loading agent credentials
func TestAgentCredentialsRoundTrip(t *testing.T) {
	ca := newTestCA(t)
	certPEM, keyPEM, err := ca.IssueAgentCert("web-01")
	if err != nil {
		t.Fatalf("IssueAgentCert: %v", err)
	}

	dir := t.TempDir()
	if CredentialsExist(dir) {
		t.Fatal("empty dir reports existing credentials")
	}
	if err := SaveAgentCredentials(certPEM, keyPEM, dir); err != nil {
		t.Fatalf("SaveAgentCredentials: %v", err)
	}
	if !CredentialsExist(dir) {
		t.Fatal("saved credentials not detected")
	}

	gotCert, gotKey, err := LoadAgentCredentials(dir)
	if err != nil {
		t.Fatalf("LoadAgentCredentials: %v", err)
	}
	if string(gotCert) != string(certPEM) || string(gotKey) != string(keyPEM) {
		t.Error("credentials round-trip mismatch")
	}
}

package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// Certificate rotation threshold: rotate when less than 30 days remaining
	certRotationThreshold = 30 * 24 * time.Hour
)

// EncodeCertificatePEM wraps DER certificate bytes in a PEM block
func EncodeCertificatePEM(certDER []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
}

// ParseCertificatePEM decodes a PEM-encoded certificate
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// parsePrivateKeyPEM decodes a PEM-encoded PKCS1 RSA private key
func parsePrivateKeyPEM(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// SaveAgentCredentials writes an agent's certificate and key PEM to disk.
// The key file is created with owner-only permissions.
func SaveAgentCredentials(certPEM, keyPEM []byte, credDir string) error {
	if err := os.MkdirAll(credDir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	certPath := filepath.Join(credDir, "agent.crt")
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	keyPath := filepath.Join(credDir, "agent.key")
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	return nil
}

// LoadAgentCredentials reads an agent's certificate and key PEM from disk
func LoadAgentCredentials(credDir string) (certPEM, keyPEM []byte, err error) {
	certPEM, err = os.ReadFile(filepath.Join(credDir, "agent.crt"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err = os.ReadFile(filepath.Join(credDir, "agent.key"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// CredentialsExist checks whether enrollment has already produced a
// certificate and key in the given directory
func CredentialsExist(credDir string) bool {
	_, err1 := os.Stat(filepath.Join(credDir, "agent.crt"))
	_, err2 := os.Stat(filepath.Join(credDir, "agent.key"))
	return err1 == nil && err2 == nil
}

// CertNeedsRotation returns true if the certificate should be rotated.
// This happens when less than 30 days remain until expiry.
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// CertExpiry returns the expiry time of the certificate
func CertExpiry(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter
}

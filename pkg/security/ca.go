package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	// Root CA validity: 10 years
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Agent leaf certificate validity: 1 year
	agentCertValidity = 365 * 24 * time.Hour
	// Root CA key size: 4096 bits (long-lived, high security)
	rootKeySize = 4096
	// Agent key size: 2048 bits (shorter-lived, faster)
	agentKeySize = 2048
)

// ErrCANotInitialized is returned when the CA is used before Ensure
var ErrCANotInitialized = errors.New("certificate authority not initialized")

// CertAuthority manages the hub's trust root. The root certificate and key
// are created lazily exactly once, persisted through the injected store
// (private key encrypted at rest), and reloaded on restart.
type CertAuthority struct {
	store   storage.Store
	secrets *SecretsManager

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	mu       sync.RWMutex
}

// caRecord is the serialized CA data for storage
type caRecord struct {
	CertPEM         []byte    `json:"cert_pem"`
	EncryptedKeyPEM []byte    `json:"encrypted_key_pem"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCertAuthority creates a certificate authority backed by the given store
func NewCertAuthority(store storage.Store, secrets *SecretsManager) *CertAuthority {
	return &CertAuthority{
		store:   store,
		secrets: secrets,
	}
}

// Ensure loads the persisted CA, generating and persisting a new one if
// none exists yet. Safe to call multiple times.
func (ca *CertAuthority) Ensure() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.rootCert != nil && ca.rootKey != nil {
		return nil
	}

	data, err := ca.store.GetCA()
	if err == nil {
		return ca.loadLocked(data)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read CA from storage: %w", err)
	}

	return ca.generateLocked()
}

func (ca *CertAuthority) loadLocked(data []byte) error {
	var rec caRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to unmarshal CA record: %w", err)
	}

	keyPEM, err := ca.secrets.Decrypt(rec.EncryptedKeyPEM)
	if err != nil {
		return fmt.Errorf("failed to decrypt CA key: %w", err)
	}

	rootCert, err := ParseCertificatePEM(rec.CertPEM)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	rootKey, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("failed to parse CA key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

func (ca *CertAuthority) generateLocked() error {
	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Outpost Fleet"},
			CommonName:   "Outpost Hub CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rootKey),
	})
	encryptedKey, err := ca.secrets.Encrypt(keyPEM)
	if err != nil {
		return fmt.Errorf("failed to encrypt CA key: %w", err)
	}

	rec := caRecord{
		CertPEM:         EncodeCertificatePEM(certDER),
		EncryptedKeyPEM: encryptedKey,
		CreatedAt:       time.Now(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal CA record: %w", err)
	}
	if err := ca.store.SaveCA(data); err != nil {
		return fmt.Errorf("failed to save CA to storage: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// IsInitialized returns true if the CA holds a root cert and key
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

// CACertPEM returns the root certificate in PEM format
func (ca *CertAuthority) CACertPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return EncodeCertificatePEM(ca.rootCert.Raw)
}

// Info returns the CA record for callers that need the trust root metadata
func (ca *CertAuthority) Info() (*types.HubCA, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil, ErrCANotInitialized
	}
	return &types.HubCA{
		CertPEM:   EncodeCertificatePEM(ca.rootCert.Raw),
		CreatedAt: ca.rootCert.NotBefore,
	}, nil
}

// IssueAgentCert issues a leaf certificate for an agent. The leaf is marked
// not-a-CA, carries clientAuth extended key usage only, and its CN is the
// agent name. Returns the certificate and key in PEM form.
func (ca *CertAuthority) IssueAgentCert(commonName string) (certPEM, keyPEM []byte, err error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, nil, ErrCANotInitialized
	}

	agentKey, err := rsa.GenerateKey(rand.Reader, agentKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate agent key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Outpost Fleet"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(agentCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		IsCA:                  false,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &agentKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent certificate: %w", err)
	}

	certPEM = EncodeCertificatePEM(certDER)
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(agentKey),
	})
	return certPEM, keyPEM, nil
}

// VerifyAgentCert verifies a presented agent certificate against this CA
func (ca *CertAuthority) VerifyAgentCert(certPEM []byte) error {
	caPEM := ca.CACertPEM()
	if caPEM == nil {
		return ErrCANotInitialized
	}
	if !VerifyCertAgainstCA(certPEM, caPEM) {
		return errors.New("certificate not issued by this hub")
	}
	return nil
}

// VerifyCertAgainstCA reports whether certPEM chains to, and is signed by,
// the CA in caCertPEM. A certificate signed by an unrelated CA returns
// false.
func VerifyCertAgainstCA(certPEM, caCertPEM []byte) bool {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return false
	}
	caCert, err := ParseCertificatePEM(caCertPEM)
	if err != nil {
		return false
	}

	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	_, err = cert.Verify(opts)
	return err == nil
}

// CertFingerprint returns the stable content digest of a certificate:
// lowercase hex SHA-256 over the DER bytes. Deterministic per cert,
// distinct across distinct certs. Used as the agent's enrollment identity,
// independent of transport-layer identity.
func CertFingerprint(certPEM []byte) (string, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:]), nil
}

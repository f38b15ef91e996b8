package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ErrNotCA is returned by LoadCA when the certificate is not a CA certificate.
var ErrNotCA = errors.New("certificate is not a CA")

// CA is a minimal signing authority. It plays the provider side in local
// setups and mints certificates with explicit validity for tests.
type CA struct {
	cert    *x509.Certificate
	certPEM string
	ks      KeyStore
	keyID   string
	signer  crypto.Signer

	mu         sync.Mutex
	nextSerial int64
}

func defaultKeyStore(ks KeyStore) KeyStore {
	if ks == nil {
		return NewSoftwareKeyStore()
	}
	return ks
}

func encodeCertPEM(derBytes []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}

// NewCA generates a key in ks (or a fresh SoftwareKeyStore when ks is nil)
// and a self-signed root certificate for subject valid for validity.
func NewCA(ks KeyStore, subject pkix.Name, validity time.Duration) (*CA, error) {
	ks = defaultKeyStore(ks)

	keyID, err := ks.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("getting CA signer: %w", err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, err
	}

	return &CA{
		cert:       cert,
		certPEM:    encodeCertPEM(derBytes),
		ks:         ks,
		keyID:      keyID,
		signer:     signer,
		nextSerial: 2, // serial 1 is the CA certificate itself
	}, nil
}

// LoadCA restores a CA from its certificate and private key PEM.
func LoadCA(certPEM, keyPEM string, ks KeyStore) (*CA, error) {
	ks = defaultKeyStore(ks)

	cert, _, err := decodeCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("CA certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, ErrNotCA
	}
	keyID, err := ks.ImportPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("CA key: %w", err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, err
	}

	return &CA{
		cert:       cert,
		certPEM:    certPEM,
		ks:         ks,
		keyID:      keyID,
		signer:     signer,
		nextSerial: time.Now().UnixNano(),
	}, nil
}

// CertificatePEM returns the CA certificate.
func (ca *CA) CertificatePEM() string {
	return ca.certPEM
}

// KeyPEM returns the CA private key, or ErrKeyNotExportable.
func (ca *CA) KeyPEM() (string, error) {
	return ca.ks.ExportPEM(ca.keyID)
}

// SignCSR issues a certificate for csrPEM expiring validity from now. A
// negative validity yields an already expired certificate whose NotBefore is
// one hour before its NotAfter.
func (ca *CA) SignCSR(csrPEM string, validity time.Duration) (string, error) {
	csr, err := decodeCSR(csrPEM)
	if err != nil {
		return "", err
	}

	ca.mu.Lock()
	serial := big.NewInt(ca.nextSerial)
	ca.nextSerial++
	ca.mu.Unlock()

	now := time.Now().UTC()
	notAfter := now.Add(validity)
	notBefore := now
	if !notAfter.After(now) {
		notBefore = notAfter.Add(-time.Hour)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              csr.DNSNames,
		IPAddresses:           csr.IPAddresses,
		EmailAddresses:        csr.EmailAddresses,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.signer)
	if err != nil {
		return "", fmt.Errorf("signing CSR: %w", err)
	}
	return encodeCertPEM(derBytes), nil
}

// Package pki is the cryptographic collaborator of the certificate
// requester. It extracts expiry times and descriptive fields from PEM
// certificates, generates CSRs with their private keys held in locked
// memory, and provides a minimal signing CA for development setups and
// tests. Nothing in this package decides certificate lifecycle; it only
// answers questions about PEM material.
package pki

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrInvalidCSR is returned when a CSR cannot be parsed or its signature
	// does not verify.
	ErrInvalidCSR = errors.New("invalid certificate signing request")
)

// Certificate status values.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// CertificateInfo holds the descriptive fields of a parsed certificate.
type CertificateInfo struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	SerialNumber      string    `json:"serial_number"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	DNSNames          []string  `json:"dns_names,omitempty"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	KeyAlgorithm      string    `json:"key_algorithm"`
	Status            string    `json:"status"`
}

// ---------------------------------------------------------------------------
// Certificate PEM parsing
// ---------------------------------------------------------------------------

func decodeCertificate(certPEM string) (*x509.Certificate, []byte, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, block.Bytes, nil
}

// ParseCertificatePEM decodes the first PEM certificate in certPEM.
func ParseCertificatePEM(certPEM string) (*CertificateInfo, error) {
	cert, der, err := decodeCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	fingerprint := sha256.Sum256(der)

	return &CertificateInfo{
		Subject:           subjectString(cert.Subject),
		Issuer:            subjectString(cert.Issuer),
		SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		DNSNames:          cert.DNSNames,
		FingerprintSHA256: hex.EncodeToString(fingerprint[:]),
		KeyAlgorithm:      keyAlgorithmString(cert),
		Status:            certStatus(cert, time.Now()),
	}, nil
}

// ExpiryTime returns the NotAfter time of the first PEM certificate in
// certPEM, in UTC.
func ExpiryTime(certPEM string) (time.Time, error) {
	cert, _, err := decodeCertificate(certPEM)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter.UTC(), nil
}

// subjectString formats a pkix.Name as a readable DN string.
func subjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	return strings.Join(parts, ", ")
}

func certStatus(cert *x509.Certificate, now time.Time) string {
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return StatusExpired
	}
	return StatusActive
}

func keyAlgorithmString(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", pub.Curve.Params().Name)
	default:
		return cert.PublicKeyAlgorithm.String()
	}
}

// ---------------------------------------------------------------------------
// CSRs
// ---------------------------------------------------------------------------

// CSRInfo holds the descriptive fields of a parsed CSR.
type CSRInfo struct {
	Subject  string   `json:"subject"`
	DNSNames []string `json:"dns_names,omitempty"`
}

func decodeCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("CSR: %w", ErrInvalidPEM)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidCSR, err)
	}
	return csr, nil
}

// ParseCSRPEM decodes and verifies a PEM certificate signing request.
func ParseCSRPEM(csrPEM string) (*CSRInfo, error) {
	csr, err := decodeCSR(csrPEM)
	if err != nil {
		return nil, err
	}
	return &CSRInfo{
		Subject:  subjectString(csr.Subject),
		DNSNames: csr.DNSNames,
	}, nil
}

// CSRBundle is a freshly generated CSR and its private key. The key lives in
// a locked, non-swappable buffer; callers must call Destroy when done.
type CSRBundle struct {
	CSR string
	Key *memguard.LockedBuffer
}

// Destroy wipes the private key.
func (b *CSRBundle) Destroy() {
	if b.Key != nil {
		b.Key.Destroy()
	}
}

// NewCSR generates a key in ks and a CSR for subject signed by it. When ks
// is nil a fresh SoftwareKeyStore is used. The key is removed from ks once
// exported into the bundle.
func NewCSR(ks KeyStore, subject pkix.Name, dnsNames []string) (*CSRBundle, error) {
	if ks == nil {
		ks = NewSoftwareKeyStore()
	}
	keyID, err := ks.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer ks.Delete(keyID) //nolint:errcheck

	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  subject,
		DNSNames: dnsNames,
	}, signer)
	if err != nil {
		return nil, fmt.Errorf("creating CSR: %w", err)
	}

	keyPEM, err := ks.ExportPEM(keyID)
	if err != nil {
		return nil, fmt.Errorf("exporting CSR private key: %w", err)
	}

	return &CSRBundle{
		CSR: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})),
		Key: memguard.NewBufferFromBytes([]byte(keyPEM)),
	}, nil
}

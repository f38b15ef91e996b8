package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"
)

// SoftwareKeyStore holds ECDSA P-256 private keys in memory. Keys are
// identified by an opaque string generated at creation time.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
	rand io.Reader
	seq  int
}

var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*ecdsa.PrivateKey),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) addLocked(priv *ecdsa.PrivateKey) string {
	s.seq++
	id := fmt.Sprintf("sw-%d", s.seq)
	s.keys[id] = priv
	return id
}

// GenerateKey creates a new ECDSA P-256 key pair.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(priv), nil
}

// Signer returns the *ecdsa.PrivateKey (which implements crypto.Signer).
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	priv, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return priv, nil
}

// ExportPEM encodes the private key as SEC1 "EC PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) (string, error) {
	s.mu.Lock()
	priv, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// ImportPEM parses an EC private key PEM block (SEC1 or PKCS8) and stores it.
func (s *SoftwareKeyStore) ImportPEM(pemData string) (string, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	var priv *ecdsa.PrivateKey
	var err error

	switch block.Type {
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, e := x509.ParsePKCS8PrivateKey(block.Bytes)
		if e != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, e)
		}
		var ok bool
		priv, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(priv), nil
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}

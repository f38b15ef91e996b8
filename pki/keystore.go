package pki

import (
	"crypto"
	"errors"
)

// KeyStore abstracts private-key operations so that CSR generation and the
// development CA can work with in-memory keys or an external key service
// without changing calling code.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined.
type KeyStore interface {
	// GenerateKey creates a new signing key and returns an opaque identifier.
	GenerateKey() (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key in PEM-encoded SEC1 format.
	// Stores whose keys never leave the device return ErrKeyNotExportable.
	ExportPEM(keyID string) (string, error)

	// ImportPEM loads a PEM-encoded private key into the store and returns its key ID.
	ImportPEM(pemData string) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

// ErrKeyNotExportable is returned by KeyStore.ExportPEM when the backing
// store does not allow private key material to leave it.
var ErrKeyNotExportable = errors.New("private key is not exportable")

// ErrKeyNotFound is returned when the referenced key ID does not exist.
var ErrKeyNotFound = errors.New("key not found")

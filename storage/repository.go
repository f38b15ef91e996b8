// Package storage provides the storage abstraction layer for session channel records.
//
// A session is the exchange point between a certificate requester and its
// provider. Each session holds versioned records addressed by the side that
// owns them and a channel key.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist within an existing session.
	ErrNotFound = errors.New("record not found")
	// ErrSessionNotFound is returned when the session itself does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Side identifies which party of a session owns a record.
type Side string

const (
	// SideLocal holds records written by the requester.
	SideLocal Side = "local"
	// SideRemote holds records written by the provider.
	SideRemote Side = "remote"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLocal || s == SideRemote
}

// Repository defines the interface for session channel storage.
//
// Record operations on a session that was never created (or has been
// deleted) fail with ErrSessionNotFound. PutCAS with expectedVersion 0
// requires the record to be absent.
type Repository interface {
	CreateSession(sessionID string) error
	DeleteSession(sessionID string) error
	SessionExists(sessionID string) (bool, error)
	ListSessions() ([]string, error)

	Get(sessionID string, side Side, key string) (*Envelope, error)
	Put(sessionID string, side Side, key string, envelope *Envelope) error
	PutCAS(sessionID string, side Side, key string, expectedVersion uint64, envelope *Envelope) error
	Delete(sessionID string, side Side, key string) error
}

// RecordKey returns the flat key used by backends that store a session as a
// single keyspace.
func RecordKey(side Side, key string) string {
	return string(side) + ":" + key
}

// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/certreq/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func (r *Repository) CreateSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[sessionID]; !ok {
		r.data[sessionID] = make(map[string]*storage.Envelope)
	}
	return nil
}

func (r *Repository) DeleteSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[sessionID]; !ok {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	delete(r.data, sessionID)
	return nil
}

func (r *Repository) SessionExists(sessionID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data[sessionID]
	return ok, nil
}

func (r *Repository) ListSessions() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Get(sessionID string, side storage.Side, key string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(sessionID, side, key)
}

func (r *Repository) getLocked(sessionID string, side storage.Side, key string) (*storage.Envelope, error) {
	records, ok := r.data[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	env, ok := records[storage.RecordKey(side, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
	}
	return storage.CloneEnvelope(env), nil
}

func (r *Repository) Put(sessionID string, side storage.Side, key string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(sessionID, side, key, envelope)
}

func (r *Repository) putLocked(sessionID string, side storage.Side, key string, envelope *storage.Envelope) error {
	records, ok := r.data[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	records[storage.RecordKey(side, key)] = storage.CloneEnvelope(envelope)
	return nil
}

func (r *Repository) PutCAS(sessionID string, side storage.Side, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(sessionID, side, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	case existing.Version != expectedVersion || expectedVersion == 0:
		return storage.ErrCASFailed
	}
	return r.putLocked(sessionID, side, key, envelope)
}

func (r *Repository) Delete(sessionID string, side storage.Side, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	k := storage.RecordKey(side, key)
	if _, ok := records[k]; !ok {
		return fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
	}
	delete(records, k)
	return nil
}

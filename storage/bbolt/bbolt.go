// Package bbolt provides a BBolt-backed storage repository.
//
// Sessions are nested buckets under a single root bucket so that they can be
// enumerated without scanning unrelated top-level buckets.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/certreq/storage"
)

var sessionsBucket = []byte("sessions")

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sessionBucket(tx *bbolt.Tx, sessionID string) (*bbolt.Bucket, error) {
	b := tx.Bucket(sessionsBucket).Bucket([]byte(sessionID))
	if b == nil {
		return nil, fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	return b, nil
}

func (s *Store) CreateSession(sessionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.Bucket(sessionsBucket).CreateBucketIfNotExists([]byte(sessionID))
		return err
	})
}

func (s *Store) DeleteSession(sessionID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(sessionsBucket).DeleteBucket([]byte(sessionID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
		}
		return err
	})
}

func (s *Store) SessionExists(sessionID string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(sessionsBucket).Bucket([]byte(sessionID)) != nil
		return nil
	})
	return exists, err
}

func (s *Store) ListSessions() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Cursor order is byte order, which matches sort.Strings.
		return tx.Bucket(sessionsBucket).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) Get(sessionID string, side storage.Side, key string) (*storage.Envelope, error) {
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := sessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		data := b.Get([]byte(storage.RecordKey(side, key)))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Put(sessionID string, side storage.Side, key string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := sessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(envelope)
		if err != nil {
			return err
		}
		return b.Put([]byte(storage.RecordKey(side, key)), data)
	})
}

func (s *Store) PutCAS(sessionID string, side storage.Side, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := sessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		return putCASInBucket(b, storage.RecordKey(side, key), expectedVersion, envelope)
	})
}

func putCASInBucket(b *bbolt.Bucket, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	existingData := b.Get([]byte(key))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		var existing storage.Envelope
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (s *Store) Delete(sessionID string, side storage.Side, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := sessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		k := []byte(storage.RecordKey(side, key))
		if b.Get(k) == nil {
			return fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
		}
		return b.Delete(k)
	})
}

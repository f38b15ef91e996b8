// Package redis implements storage.Repository backed by Redis.
//
// Session membership is a set at "<prefix>sessions". Each session's records
// live in one hash at "<prefix>session:<id>" whose fields are
// storage.RecordKey values and whose values are JSON envelopes. Writes run
// inside WATCH/MULTI so that a concurrent writer or session deletion aborts
// the transaction instead of clobbering it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	rdb "github.com/redis/go-redis/v9"

	"github.com/jmcleod/certreq/storage"
)

// DefaultPrefix namespaces every key written by the repository.
const DefaultPrefix = "certreq:"

// Store implements storage.Repository backed by Redis.
type Store struct {
	c      rdb.UniversalClient
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using client. An empty prefix selects DefaultPrefix.
func NewRepository(client rdb.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{c: client, prefix: prefix}
}

// NewRepositoryFromAddr connects to a single Redis node and verifies the connection.
func NewRepositoryFromAddr(ctx context.Context, addr string, db int) (*Store, error) {
	client := rdb.NewClient(&rdb.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRepository(client, ""), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.c.Close()
}

func (s *Store) sessionsKey() string {
	return s.prefix + "sessions"
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *Store) CreateSession(sessionID string) error {
	return s.c.SAdd(context.Background(), s.sessionsKey(), sessionID).Err()
}

func (s *Store) DeleteSession(sessionID string) error {
	ctx := context.Background()
	var removed *rdb.IntCmd
	_, err := s.c.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		removed = pipe.SRem(ctx, s.sessionsKey(), sessionID)
		pipe.Del(ctx, s.sessionKey(sessionID))
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) SessionExists(sessionID string) (bool, error) {
	return s.c.SIsMember(context.Background(), s.sessionsKey(), sessionID).Result()
}

func (s *Store) ListSessions() ([]string, error) {
	ids, err := s.c.SMembers(context.Background(), s.sessionsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Get(sessionID string, side storage.Side, key string) (*storage.Envelope, error) {
	ctx := context.Background()
	data, err := s.c.HGet(ctx, s.sessionKey(sessionID), storage.RecordKey(side, key)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, s.notFoundError(ctx, s.c, sessionID, side, key)
	}
	if err != nil {
		return nil, err
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) Put(sessionID string, side storage.Side, key string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.watchSession(sessionID, func(ctx context.Context, tx *rdb.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
			pipe.HSet(ctx, s.sessionKey(sessionID), storage.RecordKey(side, key), data)
			return nil
		})
		return err
	})
}

func (s *Store) PutCAS(sessionID string, side storage.Side, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	field := storage.RecordKey(side, key)
	return s.watchSession(sessionID, func(ctx context.Context, tx *rdb.Tx) error {
		existing, err := tx.HGet(ctx, s.sessionKey(sessionID), field).Bytes()
		switch {
		case errors.Is(err, rdb.Nil):
			if expectedVersion != 0 {
				return storage.ErrCASFailed
			}
		case err != nil:
			return err
		default:
			var env storage.Envelope
			if err := json.Unmarshal(existing, &env); err != nil {
				return err
			}
			if expectedVersion == 0 || env.Version != expectedVersion {
				return storage.ErrCASFailed
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
			pipe.HSet(ctx, s.sessionKey(sessionID), field, data)
			return nil
		})
		return err
	})
}

func (s *Store) Delete(sessionID string, side storage.Side, key string) error {
	ctx := context.Background()
	n, err := s.c.HDel(ctx, s.sessionKey(sessionID), storage.RecordKey(side, key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.notFoundError(ctx, s.c, sessionID, side, key)
	}
	return nil
}

// watchSession runs fn with the session set and the session hash watched.
// It fails with ErrSessionNotFound when the session is absent, and maps an
// aborted transaction to ErrCASFailed.
func (s *Store) watchSession(sessionID string, fn func(ctx context.Context, tx *rdb.Tx) error) error {
	ctx := context.Background()
	err := s.c.Watch(ctx, func(tx *rdb.Tx) error {
		ok, err := tx.SIsMember(ctx, s.sessionsKey(), sessionID).Result()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
		}
		return fn(ctx, tx)
	}, s.sessionsKey(), s.sessionKey(sessionID))
	if errors.Is(err, rdb.TxFailedErr) {
		return storage.ErrCASFailed
	}
	return err
}

// notFoundError distinguishes a missing session from a missing record.
func (s *Store) notFoundError(ctx context.Context, c rdb.Cmdable, sessionID string, side storage.Side, key string) error {
	ok, _ := c.SIsMember(ctx, s.sessionsKey(), sessionID).Result()
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	return fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
}

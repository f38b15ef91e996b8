// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Sessions live in their own table and records reference them with
// ON DELETE CASCADE, so deleting a session removes its channel contents.
// The records table uses a composite primary key (session_id, side, key)
// that mirrors the key space used by the BBolt and in-memory backends.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/certreq/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (s *Store) CreateSession(sessionID string) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO sessions (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		sessionID)
	return err
}

func (s *Store) DeleteSession(sessionID string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) SessionExists(sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`,
		sessionID).Scan(&exists)
	return exists, err
}

func (s *Store) ListSessions() ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT session_id FROM sessions ORDER BY session_id COLLATE "C"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func (s *Store) Get(sessionID string, side storage.Side, key string) (*storage.Envelope, error) {
	ctx := context.Background()
	var env storage.Envelope
	err := s.pool.QueryRow(ctx,
		`SELECT ver, value, version
		 FROM records WHERE session_id = $1 AND side = $2 AND key = $3`,
		sessionID, string(side), key).Scan(&env.Ver, &env.Value, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(ctx, s.pool, sessionID, side, key)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) Put(sessionID string, side storage.Side, key string, envelope *storage.Envelope) error {
	return s.inSessionTx(sessionID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO records (session_id, side, key, ver, value, version)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, side, key)
			 DO UPDATE SET ver = $4, value = $5, version = $6`,
			sessionID, string(side), key, envelope.Ver, envelope.Value, envelope.Version)
		return err
	})
}

func (s *Store) PutCAS(sessionID string, side storage.Side, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.inSessionTx(sessionID, func(ctx context.Context, tx pgx.Tx) error {
		return putCASInTx(ctx, tx, sessionID, side, key, expectedVersion, envelope)
	})
}

func (s *Store) Delete(sessionID string, side storage.Side, key string) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE session_id = $1 AND side = $2 AND key = $3`,
		sessionID, string(side), key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(ctx, s.pool, sessionID, side, key)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// inSessionTx runs fn in a transaction that holds a share lock on the
// session row, so the session cannot be deleted underneath the write.
func (s *Store) inSessionTx(sessionID string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM sessions WHERE session_id = $1 FOR SHARE`, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	if err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(ctx context.Context, tx pgx.Tx, sessionID string, side storage.Side, key string, expectedVersion uint64, envelope *storage.Envelope) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE session_id = $1 AND side = $2 AND key = $3
		 FOR UPDATE`,
		sessionID, string(side), key).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (session_id, side, key, ver, value, version)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, string(side), key, envelope.Ver, envelope.Value, envelope.Version)
		return err
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET ver = $4, value = $5, version = $6
		 WHERE session_id = $1 AND side = $2 AND key = $3`,
		sessionID, string(side), key, envelope.Ver, envelope.Value, envelope.Version)
	return err
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError determines whether a missing record is due to a missing
// session or a missing record within an existing session.
func notFoundError(ctx context.Context, q querier, sessionID string, side storage.Side, key string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`,
		sessionID).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", sessionID, storage.ErrSessionNotFound)
	}
	return fmt.Errorf("%s/%s: %w", side, key, storage.ErrNotFound)
}

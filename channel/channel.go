// Package channel provides the session key/value exchange point shared by a
// certificate requester and its provider.
//
// A Channel is a handle on one session. Reads never fail because a key or
// the session is absent; they report absence instead. Updates are atomic
// read-modify-write sequences: they are serialized per session inside the
// process and committed with compare-and-swap against the repository, so a
// writer in another process sharing the backend cannot lose an update either.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jmcleod/certreq/storage"
)

// Well-known channel keys.
const (
	// KeyCSRs is the local key holding the requester's outstanding CSRs.
	KeyCSRs = "certificate_signing_requests"
	// KeyCertificates is the remote key holding the provider's catalog.
	KeyCertificates = "certificates"
)

const defaultMaxTries = 8

// ErrInvalidSide is returned for operations addressed to an unknown side.
var ErrInvalidSide = errors.New("invalid channel side")

// UpdateFunc computes the next value of a key from its current value.
// ok is false when the key is absent. Returning write=false leaves the key
// untouched. The function may run more than once if a concurrent writer
// wins the race, so it must not have side effects.
type UpdateFunc func(current string, ok bool) (next string, write bool, err error)

// Provider opens channels over a storage.Repository.
type Provider struct {
	repo     storage.Repository
	logger   *slog.Logger
	maxTries uint

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithMaxTries bounds the number of compare-and-swap attempts per update.
func WithMaxTries(n uint) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxTries = n
		}
	}
}

// NewProvider returns a Provider backed by repo.
func NewProvider(repo storage.Repository, opts ...Option) *Provider {
	p := &Provider{
		repo:     repo,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxTries: defaultMaxTries,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open returns a handle on sessionID. The session need not exist yet.
func (p *Provider) Open(sessionID string) *Channel {
	return &Channel{p: p, id: sessionID}
}

// Establish creates the session if needed and returns a handle on it.
func (p *Provider) Establish(sessionID string) (*Channel, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := p.repo.CreateSession(sessionID); err != nil {
		return nil, fmt.Errorf("establishing session %s: %w", sessionID, err)
	}
	return p.Open(sessionID), nil
}

// Teardown deletes the session and everything exchanged over it. The
// session's mutex outlives it, so callers already waiting on it and callers
// arriving later still exclude each other.
func (p *Provider) Teardown(sessionID string) error {
	lock := p.lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return p.repo.DeleteSession(sessionID)
}

// Sessions lists established sessions.
func (p *Provider) Sessions() ([]string, error) {
	return p.repo.ListSessions()
}

func (p *Provider) lock(sessionID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[sessionID] = l
	}
	return l
}

// Channel is a handle on one session.
type Channel struct {
	p  *Provider
	id string
}

// ID returns the session identifier.
func (c *Channel) ID() string {
	return c.id
}

// Exists reports whether the session has been established.
func (c *Channel) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.p.repo.SessionExists(c.id)
}

// Read returns the value of key on side. ok is false when the key or the
// whole session is absent.
func (c *Channel) Read(ctx context.Context, side storage.Side, key string) (value string, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if !side.Valid() {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	env, err := c.p.repo.Get(c.id, side, key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrSessionNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", side, key, err)
	}
	data, err := storage.OpenValue(env)
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", side, key, err)
	}
	return string(data), true, nil
}

// Write replaces the value of key on side.
func (c *Channel) Write(ctx context.Context, side storage.Side, key, value string) error {
	return c.Update(ctx, side, key, func(string, bool) (string, bool, error) {
		return value, true, nil
	})
}

// Update applies fn to key on side atomically. Writes to an absent session
// fail with storage.ErrSessionNotFound.
func (c *Channel) Update(ctx context.Context, side storage.Side, key string, fn UpdateFunc) error {
	if !side.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}

	lock := c.p.lock(c.id)
	lock.Lock()
	defer lock.Unlock()

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := c.tryUpdate(side, key, fn)
		if errors.Is(err, storage.ErrCASFailed) {
			c.p.logger.Debug("channel update conflict, retrying",
				slog.String("session_id", c.id),
				slog.String("key", key),
				slog.Int("attempt", attempt))
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(c.p.maxTries))
	return err
}

func (c *Channel) tryUpdate(side storage.Side, key string, fn UpdateFunc) error {
	var (
		current string
		version uint64
		ok      bool
	)
	env, err := c.p.repo.Get(c.id, side, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		data, err := storage.OpenValue(env)
		if err != nil {
			return err
		}
		current, version, ok = string(data), env.Version, true
	}

	next, write, err := fn(current, ok)
	if err != nil || !write {
		return err
	}
	return c.p.repo.PutCAS(c.id, side, key, version, storage.SealValue([]byte(next), version+1))
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

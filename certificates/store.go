package certificates

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/storage"
)

// CertificateTransport publishes and withdraws CSRs. Store is the
// channel-backed implementation; tests substitute their own.
type CertificateTransport interface {
	Create(ctx context.Context, csr string) error
	Revoke(ctx context.Context, csr string) error
	Read(ctx context.Context) ([]CSRRecord, error)
}

// Store owns the ordered set of outstanding CSRs kept under
// channel.KeyCSRs on the local side of a channel.
type Store struct {
	ch       *channel.Channel
	recorder Recorder
}

var _ CertificateTransport = (*Store)(nil)

// NewStore returns a Store over ch. It honours WithRecorder.
func NewStore(ch *channel.Channel, opts ...Option) *Store {
	o := newOptions(opts)
	return &Store{ch: ch, recorder: o.recorder}
}

// Create appends csr to the store unless its normalized form is already
// present. It fails with ErrNoSession when the channel does not exist, and
// with ErrEmptyCSR when csr is blank.
func (s *Store) Create(ctx context.Context, csr string) (err error) {
	defer func() { s.recorder.StoreOperation("create", err) }()

	ok, err := s.ch.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking session %s: %w", s.ch.ID(), err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", s.ch.ID(), ErrNoSession)
	}
	norm := Normalize(csr)
	if norm == "" {
		return ErrEmptyCSR
	}

	err = s.ch.Update(ctx, storage.SideLocal, channel.KeyCSRs, func(current string, present bool) (string, bool, error) {
		records, err := decodeCSRs(current, present)
		if err != nil {
			return "", false, err
		}
		if indexCSR(records, norm) >= 0 {
			return "", false, nil
		}
		next, err := encodeCSRs(append(records, CSRRecord{CSR: norm}))
		return next, err == nil, err
	})
	if errors.Is(err, storage.ErrSessionNotFound) {
		// Torn down between the existence check and the write.
		return fmt.Errorf("%s: %w", s.ch.ID(), ErrNoSession)
	}
	return err
}

// Revoke removes csr from the store. A CSR that is not stored, an absent
// store key and an absent channel are all no-ops. Other failures are
// reported as *RevocationError.
func (s *Store) Revoke(ctx context.Context, csr string) (err error) {
	defer func() { s.recorder.StoreOperation("revoke", err) }()

	norm := Normalize(csr)
	err = s.ch.Update(ctx, storage.SideLocal, channel.KeyCSRs, func(current string, present bool) (string, bool, error) {
		if !present {
			return "", false, nil
		}
		records, err := decodeCSRs(current, present)
		if err != nil {
			return "", false, err
		}
		i := indexCSR(records, norm)
		if i < 0 {
			return "", false, nil
		}
		next, err := encodeCSRs(slices.Delete(records, i, i+1))
		return next, err == nil, err
	})
	if err == nil || errors.Is(err, storage.ErrSessionNotFound) {
		return nil
	}
	return &RevocationError{CSR: norm, Err: err}
}

// Read returns the stored CSRs in insertion order. An absent key or channel
// yields an empty list.
func (s *Store) Read(ctx context.Context) (records []CSRRecord, err error) {
	defer func() { s.recorder.StoreOperation("read", err) }()

	data, ok, err := s.ch.Read(ctx, storage.SideLocal, channel.KeyCSRs)
	if err != nil {
		return nil, err
	}
	return decodeCSRs(data, ok)
}

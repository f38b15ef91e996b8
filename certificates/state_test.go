package certificates_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/certreq/certificates"
)

func TestScanner_StateOf(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	expiries := map[string]time.Time{
		"long":     now.Add(30 * 24 * time.Hour),
		"soon":     now.Add(8 * time.Hour),
		"past":     now.Add(-time.Hour),
		"replaced": now.Add(-time.Hour),
	}
	s := newScanner(t,
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(cert string) (time.Time, error) {
			e, ok := expiries[cert]
			if !ok {
				return time.Time{}, errors.New("unparseable")
			}
			return e, nil
		}))

	stored := csrs("SUBMITTED", "ISSUED", "SOON", "EXPIRED", "REVOKED", "GARBLED", "REISSUED")
	catalog := []certificates.CertificateRecord{
		{CSR: "ISSUED", Certificate: "long"},
		{CSR: "SOON", Certificate: "soon"},
		{CSR: "EXPIRED", Certificate: "past"},
		{CSR: "REVOKED", Certificate: "long", Revoked: true},
		{CSR: "GARBLED", Certificate: "???"},
		{CSR: "REISSUED", Certificate: "replaced"},
		{CSR: "REISSUED", Certificate: "long"},
		{CSR: "REMOVED", Certificate: "long"},
	}

	tests := map[string]certificates.State{
		"SUBMITTED":  certificates.StateSubmitted,
		"ISSUED":     certificates.StateIssued,
		" SOON\n":    certificates.StateExpiringSoon,
		"EXPIRED":    certificates.StateExpired,
		"REVOKED":    certificates.StateRevoked,
		"GARBLED":    certificates.StateIssued,
		"REISSUED":   certificates.StateIssued,
		"REMOVED":    certificates.StateRemoved,
		"NEVER-MADE": certificates.StateRemoved,
	}
	for csr, want := range tests {
		assert.Equal(t, want, s.StateOf(csr, stored, catalog), "csr %q", csr)
	}
}

func TestScanner_Statuses(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(8 * time.Hour)
	s := newScanner(t,
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(string) (time.Time, error) { return expiry, nil }))

	statuses := s.Statuses(csrs("B", "A"), []certificates.CertificateRecord{{CSR: "A", Certificate: "c"}})
	assert.Equal(t, []certificates.CSRStatus{
		{CSR: "B", State: certificates.StateSubmitted},
		{CSR: "A", State: certificates.StateExpiringSoon, Expiry: &expiry},
	}, statuses)
}

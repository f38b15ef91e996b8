package certificates_test

import (
	"crypto/x509/pkix"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/pki"
)

// issue returns a catalog record whose certificate expires validity from now.
func issue(t *testing.T, ca *pki.CA, validity time.Duration) certificates.CertificateRecord {
	t.Helper()
	bundle, err := pki.NewCSR(nil, pkix.Name{CommonName: "whatever"}, nil)
	require.NoError(t, err)
	t.Cleanup(bundle.Destroy)

	cert, err := ca.SignCSR(bundle.CSR, validity)
	require.NoError(t, err)
	return certificates.CertificateRecord{
		CSR:         certificates.Normalize(bundle.CSR),
		Certificate: cert,
		CA:          ca.CertificatePEM(),
		Chain:       []string{"a", "b"},
	}
}

func newTestCA(t *testing.T) *pki.CA {
	t.Helper()
	ca, err := pki.NewCA(nil, pkix.Name{CommonName: "whatever"}, 365*24*time.Hour)
	require.NoError(t, err)
	return ca
}

func newScanner(t *testing.T, opts ...certificates.Option) *certificates.Scanner {
	t.Helper()
	s, err := certificates.NewScanner(certificates.DefaultScannerConfig(), opts...)
	require.NoError(t, err)
	return s
}

func TestScanner_Expired(t *testing.T) {
	record := issue(t, newTestCA(t), -time.Hour)

	events := newScanner(t).Scan([]certificates.CertificateRecord{record})
	require.Len(t, events, 1)
	assert.Equal(t, certificates.CertificateExpired{Certificate: record.Certificate}, events[0])
}

func TestScanner_Expiring(t *testing.T) {
	const hours = 8
	record := issue(t, newTestCA(t), hours*time.Hour)

	events := newScanner(t).Scan([]certificates.CertificateRecord{record})
	now := time.Now().UTC()
	require.Len(t, events, 1)

	expiring, ok := events[0].(certificates.CertificateExpiring)
	require.True(t, ok, "expected CertificateExpiring, got %T", events[0])
	assert.Equal(t, record.Certificate, expiring.Certificate)

	expiry, err := time.Parse(time.RFC3339, expiring.Expiry)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, expiry.Location())
	remaining := expiry.Sub(now)
	assert.GreaterOrEqual(t, remaining, hours*time.Hour-60*time.Second)
	assert.LessOrEqual(t, remaining, hours*time.Hour)
}

func TestScanner_NotYetExpiring(t *testing.T) {
	ca := newTestCA(t)
	for _, hours := range []time.Duration{100, 200} {
		record := issue(t, ca, hours*time.Hour)
		events := newScanner(t).Scan([]certificates.CertificateRecord{record})
		assert.Empty(t, events, "%d hours", hours)
	}
}

func TestScanner_EmptyCatalog(t *testing.T) {
	s := newScanner(t)
	assert.Empty(t, s.Scan(nil))
	assert.Empty(t, s.Scan(certificates.ParseCatalog("")))
	assert.Empty(t, s.Scan(certificates.ParseCatalog("[]")))
}

func TestScanner_Boundaries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiries := map[string]time.Time{
		"at-now":       now,
		"past":         now.Add(-time.Second),
		"in-a-second":  now.Add(time.Second),
		"at-window":    now.Add(certificates.DefaultExpiryNotificationWindow),
		"after-window": now.Add(certificates.DefaultExpiryNotificationWindow + time.Second),
	}
	s := newScanner(t,
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(cert string) (time.Time, error) {
			return expiries[cert], nil
		}))

	kinds := func(cert string) []certificates.EventKind {
		var out []certificates.EventKind
		for _, ev := range s.Scan([]certificates.CertificateRecord{{CSR: "x", Certificate: cert}}) {
			out = append(out, ev.Kind())
		}
		return out
	}

	assert.Equal(t, []certificates.EventKind{certificates.KindCertificateExpired}, kinds("at-now"))
	assert.Equal(t, []certificates.EventKind{certificates.KindCertificateExpired}, kinds("past"))
	assert.Equal(t, []certificates.EventKind{certificates.KindCertificateExpiring}, kinds("in-a-second"))
	assert.Equal(t, []certificates.EventKind{certificates.KindCertificateExpiring}, kinds("at-window"))
	assert.Empty(t, kinds("after-window"))
}

func TestScanner_ExpiryFormat(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, local)
	s := newScanner(t,
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(string) (time.Time, error) {
			return now.Add(8 * time.Hour), nil
		}))

	events := s.Scan([]certificates.CertificateRecord{{CSR: "x", Certificate: "c"}})
	require.Len(t, events, 1)
	assert.Equal(t, "2026-03-01T18:00:00Z", events[0].(certificates.CertificateExpiring).Expiry)
}

func TestScanner_SkipsUnparseableCertificates(t *testing.T) {
	ca := newTestCA(t)
	good := issue(t, ca, -time.Hour)
	catalog := []certificates.CertificateRecord{
		{CSR: "a", Certificate: "whatever certificate"},
		good,
	}

	rec := newRecorder()
	events := newScanner(t, certificates.WithRecorder(rec)).Scan(catalog)
	require.Len(t, events, 1)
	assert.Equal(t, certificates.KindCertificateExpired, events[0].Kind())
	assert.Equal(t, 1, rec.scans)
}

func TestScanner_IncludesUnmatchedAndRevoked(t *testing.T) {
	ca := newTestCA(t)
	record := issue(t, ca, -time.Hour)
	record.Revoked = true
	record.CSR = "not in any store"

	events := newScanner(t).Scan([]certificates.CertificateRecord{record})
	assert.Len(t, events, 1)
}

func TestScannerConfig_Validate(t *testing.T) {
	assert.NoError(t, certificates.DefaultScannerConfig().Validate())
	assert.Equal(t, 24*time.Hour, certificates.DefaultScannerConfig().NotificationWindow)

	for _, w := range []time.Duration{0, -time.Hour} {
		_, err := certificates.NewScanner(certificates.ScannerConfig{NotificationWindow: w})
		assert.ErrorIs(t, err, certificates.ErrInvalidWindow)
	}
}

func TestScanner_CustomWindow(t *testing.T) {
	now := time.Now()
	s, err := certificates.NewScanner(certificates.ScannerConfig{NotificationWindow: 200 * time.Hour},
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(string) (time.Time, error) { return now.Add(100 * time.Hour), nil }))
	require.NoError(t, err)
	assert.Equal(t, 200*time.Hour, s.Window())

	events := s.Scan([]certificates.CertificateRecord{{CSR: "x", Certificate: "c"}})
	require.Len(t, events, 1)
	assert.Equal(t, certificates.KindCertificateExpiring, events[0].Kind())
}

func TestScanner_ExpiryErrorDoesNotStopScan(t *testing.T) {
	now := time.Now()
	s := newScanner(t,
		certificates.WithClock(func() time.Time { return now }),
		certificates.WithExpiryFunc(func(cert string) (time.Time, error) {
			if cert == "bad" {
				return time.Time{}, errors.New("unparseable")
			}
			return now.Add(-time.Minute), nil
		}))

	events := s.Scan([]certificates.CertificateRecord{
		{CSR: "1", Certificate: "bad"},
		{CSR: "2", Certificate: "good"},
		{CSR: "3", Certificate: "bad"},
	})
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].CertificatePEM())
}

func TestTag(t *testing.T) {
	a := certificates.Tag("CSR-A")
	assert.Len(t, a, 12)
	assert.Equal(t, a, certificates.Tag("CSR-A"))
	assert.NotEqual(t, a, certificates.Tag("CSR-B"))
}

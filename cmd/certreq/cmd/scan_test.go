package cmd

import (
	"context"
	"crypto/x509/pkix"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/internal/config"
	"github.com/jmcleod/certreq/internal/metrics"
	"github.com/jmcleod/certreq/pki"
	"github.com/jmcleod/certreq/storage/memory"
)

func TestScanAll(t *testing.T) {
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = config.Default()

	p := channel.NewProvider(memory.NewRepository())
	for _, id := range []string{"a", "b"} {
		_, err := p.Establish(id)
		require.NoError(t, err)
	}

	ca, err := pki.NewCA(nil, pkix.Name{CommonName: "test CA"}, 24*time.Hour)
	require.NoError(t, err)
	bundle, err := pki.NewCSR(nil, pkix.Name{CommonName: "a.example.com"}, nil)
	require.NoError(t, err)
	defer bundle.Destroy()
	cert, err := ca.SignCSR(bundle.CSR, time.Hour)
	require.NoError(t, err)

	raw, err := json.Marshal([]certificates.CertificateRecord{{CSR: bundle.CSR, Certificate: cert}})
	require.NoError(t, err)
	req, err := newRequirer(p, "a")
	require.NoError(t, err)
	require.NoError(t, req.PublishCatalog(t.Context(), string(raw)))

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	var got []certificates.EventKind
	h := certificates.HandlerFunc(func(_ context.Context, sessionID string, ev certificates.Event) {
		assert.Equal(t, "a", sessionID)
		got = append(got, ev.Kind())
	})
	assert.Equal(t, 1, scanAll(t.Context(), p, h, m))
	assert.Equal(t, []certificates.EventKind{certificates.KindCertificateExpiring}, got)
}

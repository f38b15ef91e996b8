package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/internal/uuid"
)

func newTestWebhook(url, authHeader string) *Webhook {
	w := NewWebhook(url, authHeader, nil)
	w.retryDelay = time.Millisecond
	return w
}

func TestWebhook_DeliversEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received Message
		headers  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.HandleEvent(t.Context(), "relation-1", certificates.CertificateAvailable{
		Certificate:               "CERT",
		CA:                        "CA",
		Chain:                     []string{"C1", "C2"},
		CertificateSigningRequest: "CSR",
	})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "certificate_available", received.Event)
	assert.Equal(t, "relation-1", received.SessionID)
	assert.Equal(t, "CERT", received.Certificate)
	assert.Equal(t, "CA", received.CA)
	assert.Equal(t, []string{"C1", "C2"}, received.Chain)
	assert.Equal(t, "CSR", received.CertificateSigningRequest)
	assert.True(t, uuid.Valid(received.ID))

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "certificate_available", headers.Get("X-Certreq-Event"))
	assert.Equal(t, received.ID, headers.Get("X-Certreq-Delivery"))
}

func TestWebhook_Notify(t *testing.T) {
	var (
		mu     sync.Mutex
		parsed map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &parsed)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.Notify("store_failure_spike", map[string]any{"count": 20})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20.0, parsed["count"])
}

func TestWebhook_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.HandleEvent(t.Context(), "s", certificates.CertificateExpired{Certificate: "C"})
	wh.Close()

	assert.Equal(t, int32(2), attempts.Load(), "should have retried once after 500")
}

func TestWebhook_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.HandleEvent(t.Context(), "s", certificates.CertificateExpired{Certificate: "C"})
	wh.Close()

	assert.Equal(t, int32(1), attempts.Load(), "should not retry on 4xx")
}

func TestWebhook_AuthHeader(t *testing.T) {
	var (
		mu      sync.Mutex
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "Authorization: Bearer my-token-123")
	wh.HandleEvent(t.Context(), "s", certificates.CertificateExpired{Certificate: "C"})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer my-token-123", gotAuth)
}

func TestWebhook_QueueFullNonBlocking(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	wh := &Webhook{
		url:    srv.URL,
		client: &http.Client{Timeout: 100 * time.Millisecond},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:  make(chan delivery, 2),
	}
	wh.wg.Add(1)
	go wh.loop()

	for i := 0; i < 10; i++ {
		wh.Notify("flood", i)
	}
	assert.LessOrEqual(t, len(wh.queue), 2)
	wh.Close()
}

func TestWebhook_CloseDrains(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	for i := 0; i < 5; i++ {
		wh.HandleEvent(t.Context(), "s", certificates.CertificateExpired{Certificate: "C"})
	}
	wh.Close()
	wh.Close()

	assert.Equal(t, int32(5), count.Load(), "all queued deliveries should be sent on close")
}

func TestWebhook_DropsAfterClose(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	wh.Close()

	assert.NotPanics(t, func() {
		wh.HandleEvent(t.Context(), "s", certificates.CertificateExpired{Certificate: "C"})
		wh.Notify("late", map[string]string{"k": "v"})
	})
	assert.Zero(t, count.Load())
}

func TestWebhook_CloseRacesSenders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				wh.HandleEvent(context.Background(), "s", certificates.CertificateExpired{Certificate: "C"})
			}
		}()
	}
	wh.Close()
	wg.Wait()
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))

	m := NewMessage("s1", certificates.CertificateExpiring{Certificate: "C", Expiry: "2026-05-01T18:00:00Z"}, now)
	assert.Equal(t, "certificate_expiring", m.Event)
	assert.Equal(t, "2026-05-01T18:00:00Z", m.Expiry)
	assert.Equal(t, "2026-05-01T09:00:00Z", m.Timestamp)

	m = NewMessage("s1", certificates.CertificateRevoked{Certificate: "C", CA: "A", Chain: []string{}, CertificateSigningRequest: "R", Revoked: true}, now)
	assert.True(t, m.Revoked)
	assert.Equal(t, "R", m.CertificateSigningRequest)

	data, err := json.Marshal(NewMessage("s1", certificates.CertificateExpired{Certificate: "C"}, now))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "expiry")
	assert.NotContains(t, raw, "revoked")
	assert.Equal(t, "certificate_expired", raw["event"])
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/internal/uuid"
)

// webhookQueueSize is the bounded channel capacity for outbound deliveries.
const webhookQueueSize = 1024

type delivery struct {
	id    string
	event string
	body  []byte
}

// Webhook posts certificate events, and any other notification passed to
// Notify, to an external HTTP endpoint. Deliveries are enqueued
// non-blockingly into a bounded channel and sent by a background goroutine.
// If the channel is full, deliveries are dropped.
//
// Webhook implements certificates.Handler.
type Webhook struct {
	url        string
	authHeader string // "Header: Value" format, e.g., "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	queue      chan delivery
	wg         sync.WaitGroup

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
}

var _ certificates.Handler = (*Webhook)(nil)

// NewWebhook creates a webhook dispatcher and starts its background loop.
// A nil logger discards diagnostics.
func NewWebhook(url, authHeader string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Webhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "webhook"),
		retryDelay: time.Second,
		queue:      make(chan delivery, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// HandleEvent enqueues ev in its Message wire form.
func (w *Webhook) HandleEvent(_ context.Context, sessionID string, ev certificates.Event) {
	msg := NewMessage(sessionID, ev, time.Now())
	w.enqueue(msg.ID, msg.Event, msg)
}

// Notify enqueues an arbitrary JSON payload under the given event name.
func (w *Webhook) Notify(event string, payload any) {
	w.enqueue(uuid.New(), event, payload)
}

// enqueue never blocks. Deliveries after Close are dropped.
func (w *Webhook) enqueue(id, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn("marshal failed", "event", event, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("webhook closed, dropping delivery", "event", event)
		return
	}
	select {
	case w.queue <- delivery{id: id, event: event, body: body}:
	default:
		w.logger.Warn("queue full, dropping delivery", "event", event)
	}
}

// Close shuts down the dispatcher, draining any queued deliveries. Events
// and notifications arriving after Close are dropped.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for d := range w.queue {
		w.send(d)
	}
}

// send POSTs the delivery to the configured URL with one retry on 5xx.
func (w *Webhook) send(d delivery) {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(d.body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "certreq-webhook/1.0")
		req.Header.Set("X-Certreq-Event", d.event)
		req.Header.Set("X-Certreq-Delivery", d.id)

		if w.authHeader != "" {
			parts := strings.SplitN(w.authHeader, ":", 2)
			if len(parts) == 2 {
				req.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if resp.StatusCode >= 500 {
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		// 4xx: the endpoint rejected the payload, retrying will not help.
		w.logger.Warn("client error", "status", resp.StatusCode, "event", d.event)
		return
	}
}

package api

import (
	"time"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/internal/uuid"
)

// Message is the wire form of a certificate event, returned by the API and
// posted by the event webhook.
type Message struct {
	ID                        string   `json:"id"`
	Event                     string   `json:"event"`
	SessionID                 string   `json:"session_id"`
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca,omitempty"`
	Chain                     []string `json:"chain,omitempty"`
	CertificateSigningRequest string   `json:"certificate_signing_request,omitempty"`
	Expiry                    string   `json:"expiry,omitempty"`
	Revoked                   bool     `json:"revoked,omitempty"`
	Timestamp                 string   `json:"timestamp"`
}

// NewMessage converts ev into its wire form.
func NewMessage(sessionID string, ev certificates.Event, now time.Time) Message {
	m := Message{
		ID:          uuid.New(),
		Event:       string(ev.Kind()),
		SessionID:   sessionID,
		Certificate: ev.CertificatePEM(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	switch e := ev.(type) {
	case certificates.CertificateAvailable:
		m.CA = e.CA
		m.Chain = e.Chain
		m.CertificateSigningRequest = e.CertificateSigningRequest
	case certificates.CertificateRevoked:
		m.CA = e.CA
		m.Chain = e.Chain
		m.CertificateSigningRequest = e.CertificateSigningRequest
		m.Revoked = e.Revoked
	case certificates.CertificateExpiring:
		m.Expiry = e.Expiry
	}
	return m
}

func newMessages(sessionID string, events []certificates.Event) []Message {
	now := time.Now()
	out := make([]Message, 0, len(events))
	for _, ev := range events {
		out = append(out, NewMessage(sessionID, ev, now))
	}
	return out
}

package certificates

import (
	"context"
	"slices"
)

// EventKind names an event variant.
type EventKind string

const (
	KindCertificateAvailable EventKind = "certificate_available"
	KindCertificateExpiring  EventKind = "certificate_expiring"
	KindCertificateExpired   EventKind = "certificate_expired"
	KindCertificateRevoked   EventKind = "certificate_revoked"
)

// Event is a lifecycle event. The variants are CertificateAvailable,
// CertificateExpiring, CertificateExpired and CertificateRevoked.
type Event interface {
	Kind() EventKind
	// CertificatePEM returns the certificate the event is about.
	CertificatePEM() string
	isEvent()
}

// CertificateAvailable reports an issued certificate for an outstanding CSR.
type CertificateAvailable struct {
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain"`
	CertificateSigningRequest string   `json:"certificate_signing_request"`
}

// CertificateExpiring reports a certificate inside the notification window.
// Expiry is an RFC 3339 UTC timestamp.
type CertificateExpiring struct {
	Certificate string `json:"certificate"`
	Expiry      string `json:"expiry"`
}

// CertificateExpired reports a certificate past its expiry time.
type CertificateExpired struct {
	Certificate string `json:"certificate"`
}

// CertificateRevoked reports that the provider revoked the certificate
// issued for an outstanding CSR. Revoked is always true.
type CertificateRevoked struct {
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain"`
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	Revoked                   bool     `json:"revoked"`
}

func (CertificateAvailable) Kind() EventKind { return KindCertificateAvailable }
func (CertificateExpiring) Kind() EventKind  { return KindCertificateExpiring }
func (CertificateExpired) Kind() EventKind   { return KindCertificateExpired }
func (CertificateRevoked) Kind() EventKind   { return KindCertificateRevoked }

func (e CertificateAvailable) CertificatePEM() string { return e.Certificate }
func (e CertificateExpiring) CertificatePEM() string  { return e.Certificate }
func (e CertificateExpired) CertificatePEM() string   { return e.Certificate }
func (e CertificateRevoked) CertificatePEM() string   { return e.Certificate }

func (CertificateAvailable) isEvent() {}
func (CertificateExpiring) isEvent()  {}
func (CertificateExpired) isEvent()   {}
func (CertificateRevoked) isEvent()   {}

func newAvailable(r CertificateRecord) CertificateAvailable {
	return CertificateAvailable{
		Certificate:               r.Certificate,
		CA:                        r.CA,
		Chain:                     slices.Clone(r.Chain),
		CertificateSigningRequest: r.CSR,
	}
}

func newRevoked(r CertificateRecord) CertificateRevoked {
	return CertificateRevoked{
		Certificate:               r.Certificate,
		CA:                        r.CA,
		Chain:                     slices.Clone(r.Chain),
		CertificateSigningRequest: r.CSR,
		Revoked:                   true,
	}
}

// Handler receives events for a session. HandleEvent is called
// synchronously, in emission order.
type Handler interface {
	HandleEvent(ctx context.Context, sessionID string, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sessionID string, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, sessionID string, ev Event) {
	f(ctx, sessionID, ev)
}

// Handlers fans events out to every handler in order.
type Handlers []Handler

func (hs Handlers) HandleEvent(ctx context.Context, sessionID string, ev Event) {
	for _, h := range hs {
		h.HandleEvent(ctx, sessionID, ev)
	}
}

type nopHandler struct{}

func (nopHandler) HandleEvent(context.Context, string, Event) {}

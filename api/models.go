package api

import (
	"time"

	"github.com/jmcleod/certreq/pki"
)

// SessionResponse is returned from PUT /sessions/{sessionID}.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ListSessionsResponse is returned from GET /sessions.
type ListSessionsResponse struct {
	Sessions []string `json:"sessions"`
	PaginationMeta
}

// CSRRequest is the JSON body for POST and DELETE /sessions/{sessionID}/csrs.
type CSRRequest struct {
	CertificateSigningRequest string `json:"certificate_signing_request"`
}

// RenewRequest is the JSON body for POST /sessions/{sessionID}/csrs/renew.
type RenewRequest struct {
	OldCertificateSigningRequest string `json:"old_certificate_signing_request"`
	NewCertificateSigningRequest string `json:"new_certificate_signing_request"`
}

// CSRStatus describes one outstanding CSR and its derived state.
type CSRStatus struct {
	CertificateSigningRequest string     `json:"certificate_signing_request"`
	State                     string     `json:"state"`
	Expiry                    *time.Time `json:"expiry,omitempty"`
	// Subject is empty when the CSR is not a verifiable PEM request.
	Subject string `json:"subject,omitempty"`
}

// ListCSRsResponse is returned from GET /sessions/{sessionID}/csrs.
type ListCSRsResponse struct {
	CSRs []CSRStatus `json:"csrs"`
	PaginationMeta
}

// Certificate is one parsed catalog record.
type Certificate struct {
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain"`
	Revoked                   bool     `json:"revoked"`
	// Details is nil when the certificate does not parse.
	Details *pki.CertificateInfo `json:"details,omitempty"`
}

// ListCertificatesResponse is returned from GET /sessions/{sessionID}/certificates.
type ListCertificatesResponse struct {
	Certificates []Certificate `json:"certificates"`
	PaginationMeta
}

// EventsResponse is returned by the operations that run reconciliation or
// an expiry scan.
type EventsResponse struct {
	Events []Message `json:"events"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

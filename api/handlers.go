package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/pki"
)

const (
	// maxSmallBodySize bounds JSON request bodies carrying one or two CSRs.
	maxSmallBodySize = 256 << 10
	// maxCatalogBodySize bounds a published catalog.
	maxCatalogBodySize = 8 << 20
)

// decodeJSON decodes the request body into a T, writing a 400 response and
// returning false on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		mapError(w, fmt.Errorf("%w: %v", errBadRequestBody, err))
		return v, false
	}
	return v, true
}

// ListSessions handles GET /sessions.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.provider.Sessions()
	if err != nil {
		mapError(w, err)
		return
	}
	page, meta := paginate(r, sessions)
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: page, PaginationMeta: meta})
}

// EstablishSession handles PUT /sessions/{sessionID}. It is idempotent.
func (a *API) EstablishSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ch, err := a.provider.Establish(sessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditSessionEstablished, r, ch.ID())
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: ch.ID()})
}

// TeardownSession handles DELETE /sessions/{sessionID}.
func (a *API) TeardownSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := a.provider.Teardown(sessionID); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditSessionTornDown, r, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// ListCSRs handles GET /sessions/{sessionID}/csrs.
// Returns the outstanding CSRs in store order with their derived state.
func (a *API) ListCSRs(w http.ResponseWriter, r *http.Request) {
	req, ok := a.existingSession(w, r)
	if !ok {
		return
	}
	statuses, err := req.Statuses(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	out := make([]CSRStatus, 0, len(statuses))
	for _, s := range statuses {
		status := CSRStatus{
			CertificateSigningRequest: s.CSR,
			State:                     string(s.State),
			Expiry:                    s.Expiry,
		}
		if info, err := pki.ParseCSRPEM(s.CSR); err == nil {
			status.Subject = info.Subject
		}
		out = append(out, status)
	}
	page, meta := paginate(r, out)
	writeJSON(w, http.StatusOK, ListCSRsResponse{CSRs: page, PaginationMeta: meta})
}

// CreateCSR handles POST /sessions/{sessionID}/csrs. Submitting a CSR that
// is already outstanding succeeds without changing anything.
func (a *API) CreateCSR(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSON[CSRRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	req, err := a.requirer(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := req.RequestCertificateCreation(r.Context(), body.CertificateSigningRequest); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditCSRCreated, r, req.SessionID(), csrAttr("csr", body.CertificateSigningRequest))
	w.WriteHeader(http.StatusNoContent)
}

// RevokeCSR handles DELETE /sessions/{sessionID}/csrs. Withdrawing a CSR
// that is not outstanding, including a blank one, or from a session that
// does not exist, succeeds.
func (a *API) RevokeCSR(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSON[CSRRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	req, err := a.requirer(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := req.RequestCertificateRevocation(r.Context(), body.CertificateSigningRequest); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditCSRRevoked, r, req.SessionID(), csrAttr("csr", body.CertificateSigningRequest))
	w.WriteHeader(http.StatusNoContent)
}

// RenewCSR handles POST /sessions/{sessionID}/csrs/renew. The old CSR is
// withdrawn on a best-effort basis; only failing to submit the new one is
// an error.
func (a *API) RenewCSR(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSON[RenewRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(body.NewCertificateSigningRequest) == "" {
		mapError(w, certificates.ErrEmptyCSR)
		return
	}
	req, err := a.requirer(r)
	if err != nil {
		mapError(w, err)
		return
	}
	err = req.RequestCertificateRenewal(r.Context(),
		body.OldCertificateSigningRequest, body.NewCertificateSigningRequest)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditCSRRenewed, r, req.SessionID(),
		csrAttr("old_csr", body.OldCertificateSigningRequest),
		csrAttr("new_csr", body.NewCertificateSigningRequest))
	w.WriteHeader(http.StatusNoContent)
}

// ListCertificates handles GET /sessions/{sessionID}/certificates.
// Returns the provider's catalog with malformed entries dropped.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	req, ok := a.existingSession(w, r)
	if !ok {
		return
	}
	catalog, err := req.Catalog(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	out := make([]Certificate, 0, len(catalog))
	for _, c := range catalog {
		cert := Certificate{
			CertificateSigningRequest: c.CSR,
			Certificate:               c.Certificate,
			CA:                        c.CA,
			Chain:                     c.Chain,
			Revoked:                   c.Revoked,
		}
		if info, err := pki.ParseCertificatePEM(c.Certificate); err == nil {
			cert.Details = info
		}
		out = append(out, cert)
	}
	page, meta := paginate(r, out)
	writeJSON(w, http.StatusOK, ListCertificatesResponse{Certificates: page, PaginationMeta: meta})
}

// PublishCatalog handles PUT /sessions/{sessionID}/certificates.
// The provider side publishes its raw catalog, stored verbatim; the
// session is then reconciled and the resulting events returned.
func (a *API) PublishCatalog(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCatalogBodySize))
	if err != nil {
		mapError(w, fmt.Errorf("%w: %v", errBadRequestBody, err))
		return
	}
	req, err := a.requirer(r)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := req.PublishCatalog(r.Context(), string(raw)); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditCatalogPublished, r, req.SessionID(), slog.Int("bytes", len(raw)))

	events, err := req.OnChannelChanged(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: newMessages(req.SessionID(), events)})
}

// Scan handles POST /sessions/{sessionID}/scan.
// Runs the expiry scanner over the session's catalog immediately.
func (a *API) Scan(w http.ResponseWriter, r *http.Request) {
	req, ok := a.existingSession(w, r)
	if !ok {
		return
	}
	events, err := req.OnTick(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logSession(AuditExpiryScanned, r, req.SessionID(), slog.Int("events", len(events)))
	writeJSON(w, http.StatusOK, EventsResponse{Events: newMessages(req.SessionID(), events)})
}

// existingSession binds a Requirer to the path's session, writing a 404
// response and returning false when the session does not exist.
func (a *API) existingSession(w http.ResponseWriter, r *http.Request) (*certificates.Requirer, bool) {
	req, err := a.requirer(r)
	if err != nil {
		mapError(w, err)
		return nil, false
	}
	exists, err := req.Exists(r.Context())
	if err != nil {
		mapError(w, err)
		return nil, false
	}
	if !exists {
		mapError(w, fmt.Errorf("session %s: %w", req.SessionID(), certificates.ErrNoSession))
		return nil, false
	}
	return req, true
}

func csrAttr(key, csr string) slog.Attr {
	return slog.String(key, certificates.Tag(certificates.Normalize(csr)))
}

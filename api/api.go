// Package api exposes certificate requesting over HTTP.
//
// Every route under /sessions/{sessionID} builds a certificates.Requirer
// for that session, so the HTTP layer carries no state of its own beyond
// the channel provider it was created with.
package api

import (
	_ "embed"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/channel"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	provider *channel.Provider
	scanner  certificates.ScannerConfig
	handler  certificates.Handler
	recorder certificates.Recorder
	logger   *slog.Logger
	audit    *auditLogger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handlers and audit events.
// If not set, logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithHandler sets the handler every emitted event is delivered to, in
// addition to being returned in the response.
func WithHandler(h certificates.Handler) Option {
	return func(a *API) {
		a.handler = h
	}
}

// WithRecorder sets the metrics recorder passed to the core.
func WithRecorder(r certificates.Recorder) Option {
	return func(a *API) {
		a.recorder = r
	}
}

// WithScannerConfig sets the expiry scanner configuration.
func WithScannerConfig(cfg certificates.ScannerConfig) Option {
	return func(a *API) {
		a.scanner = cfg
	}
}

// New creates a new API instance.
func New(provider *channel.Provider, opts ...Option) *API {
	a := &API{
		provider: provider,
		scanner:  certificates.DefaultScannerConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.audit = newAuditLogger(a.logger)
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/sessions", a.ListSessions)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Put("/", a.EstablishSession)
		r.Delete("/", a.TeardownSession)
		r.Get("/csrs", a.ListCSRs)
		r.Post("/csrs", a.CreateCSR)
		r.Delete("/csrs", a.RevokeCSR)
		r.Post("/csrs/renew", a.RenewCSR)
		r.Get("/certificates", a.ListCertificates)
		r.Put("/certificates", a.PublishCatalog)
		r.Post("/scan", a.Scan)
	})

	return r
}

// requirer binds a Requirer to the session named in the request path.
func (a *API) requirer(r *http.Request) (*certificates.Requirer, error) {
	return certificates.NewRequirer(a.provider.Open(chi.URLParam(r, "sessionID")), a.scanner,
		certificates.WithLogger(a.logger),
		certificates.WithHandler(a.handler),
		certificates.WithRecorder(a.recorder))
}

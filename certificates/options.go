package certificates

import (
	"io"
	"log/slog"
	"time"

	"github.com/jmcleod/certreq/pki"
)

// ExpiryFunc extracts the expiry time of a PEM certificate.
type ExpiryFunc func(certificate string) (time.Time, error)

// Recorder observes core activity for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	EventEmitted(kind EventKind)
	CatalogEntriesDropped(n int)
	StoreOperation(op string, err error)
	ScanCompleted(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) EventEmitted(EventKind)       {}
func (nopRecorder) CatalogEntriesDropped(int)    {}
func (nopRecorder) StoreOperation(string, error) {}
func (nopRecorder) ScanCompleted(time.Duration)  {}

type options struct {
	logger    *slog.Logger
	recorder  Recorder
	now       func() time.Time
	expiry    ExpiryFunc
	handler   Handler
	transport CertificateTransport
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: nopRecorder{},
		now:      time.Now,
		expiry:   pki.ExpiryTime,
		handler:  nopHandler{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Store, Scanner or Requirer. Options a component does
// not use are ignored.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithExpiryFunc replaces pki.ExpiryTime as the source of certificate
// expiry times.
func WithExpiryFunc(fn ExpiryFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.expiry = fn
		}
	}
}

// WithHandler sets the handler a Requirer delivers events to.
func WithHandler(h Handler) Option {
	return func(o *options) {
		if h != nil {
			o.handler = h
		}
	}
}

// WithTransport makes a Requirer create and revoke CSRs through t instead of
// its channel-backed Store.
func WithTransport(t CertificateTransport) Option {
	return func(o *options) {
		o.transport = t
	}
}

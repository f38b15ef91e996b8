package certificates

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/storage"
)

// Requirer is the requester side of one session. It exposes the operations
// a host application calls and runs reconciliation and expiry scans on the
// host's notifications, delivering events to its Handler.
type Requirer struct {
	ch        *channel.Channel
	store     *Store
	transport CertificateTransport
	scanner   *Scanner
	handler   Handler
	logger    *slog.Logger
	recorder  Recorder
}

// NewRequirer binds a Requirer to ch. It honours every Option.
func NewRequirer(ch *channel.Channel, cfg ScannerConfig, opts ...Option) (*Requirer, error) {
	scanner, err := NewScanner(cfg, opts...)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	logger := o.logger.With("component", "requirer", "session_id", ch.ID())

	store := NewStore(ch, opts...)
	transport := o.transport
	if transport == nil {
		transport = store
	}
	return &Requirer{
		ch:        ch,
		store:     store,
		transport: transport,
		scanner:   scanner,
		handler:   o.handler,
		logger:    logger,
		recorder:  o.recorder,
	}, nil
}

// SessionID returns the session the Requirer is bound to.
func (r *Requirer) SessionID() string {
	return r.ch.ID()
}

// Exists reports whether the session has been established.
func (r *Requirer) Exists(ctx context.Context) (bool, error) {
	return r.ch.Exists(ctx)
}

// PublishCatalog replaces the provider's catalog with raw, verbatim. It
// writes the provider's side of the channel and is meant for hosts that
// relay the provider's writes.
func (r *Requirer) PublishCatalog(ctx context.Context, raw string) error {
	if err := r.ch.Write(ctx, storage.SideRemote, channel.KeyCertificates, raw); err != nil {
		return fmt.Errorf("publishing catalog: %w", err)
	}
	return nil
}

// RequestCertificateCreation publishes csr to the provider.
func (r *Requirer) RequestCertificateCreation(ctx context.Context, csr string) error {
	return r.transport.Create(ctx, csr)
}

// RequestCertificateRevocation withdraws csr.
func (r *Requirer) RequestCertificateRevocation(ctx context.Context, csr string) error {
	return r.transport.Revoke(ctx, csr)
}

// RequestCertificateRenewal withdraws oldCSR, best effort, and publishes
// newCSR.
func (r *Requirer) RequestCertificateRenewal(ctx context.Context, oldCSR, newCSR string) error {
	return Renew(ctx, r.transport, oldCSR, newCSR, r.logger)
}

// CSRs returns the outstanding CSRs.
func (r *Requirer) CSRs(ctx context.Context) ([]CSRRecord, error) {
	return r.transport.Read(ctx)
}

// Catalog returns the provider's parsed catalog.
func (r *Requirer) Catalog(ctx context.Context) ([]CertificateRecord, error) {
	return readCatalog(ctx, r.ch, r.logger, r.recorder)
}

// Statuses returns every outstanding CSR with its derived state.
func (r *Requirer) Statuses(ctx context.Context) ([]CSRStatus, error) {
	csrs, err := r.CSRs(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return r.scanner.Statuses(csrs, catalog), nil
}

// OnChannelChanged reconciles the current snapshot, delivers the resulting
// events to the handler and returns them.
func (r *Requirer) OnChannelChanged(ctx context.Context) ([]Event, error) {
	csrs, err := r.CSRs(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	events := Reconcile(csrs, catalog)
	r.dispatch(ctx, events)
	return events, nil
}

// OnTick scans the current catalog for expiry, delivers the resulting
// events to the handler and returns them.
func (r *Requirer) OnTick(ctx context.Context) ([]Event, error) {
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	events := r.scanner.Scan(catalog)
	r.dispatch(ctx, events)
	return events, nil
}

func (r *Requirer) dispatch(ctx context.Context, events []Event) {
	for _, ev := range events {
		r.recorder.EventEmitted(ev.Kind())
		r.logger.Debug("emitting event", "event", ev.Kind())
		r.handler.HandleEvent(ctx, r.ch.ID(), ev)
	}
}

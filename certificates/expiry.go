package certificates

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// DefaultExpiryNotificationWindow is how long before expiry a certificate
// starts producing CertificateExpiring events.
const DefaultExpiryNotificationWindow = 24 * time.Hour

// ScannerConfig configures the expiry scanner.
type ScannerConfig struct {
	// NotificationWindow is the remaining lifetime at or below which a
	// certificate is reported as expiring. Must be positive.
	NotificationWindow time.Duration
}

// DefaultScannerConfig returns the default scanner configuration.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{NotificationWindow: DefaultExpiryNotificationWindow}
}

// Validate checks the configuration.
func (c ScannerConfig) Validate() error {
	if c.NotificationWindow <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, c.NotificationWindow)
	}
	return nil
}

// Scanner derives expiry events from a catalog.
type Scanner struct {
	window   time.Duration
	now      func() time.Time
	expiry   ExpiryFunc
	logger   *slog.Logger
	recorder Recorder
}

// NewScanner returns a Scanner. It honours WithClock, WithExpiryFunc,
// WithLogger and WithRecorder.
func NewScanner(cfg ScannerConfig, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Scanner{
		window:   cfg.NotificationWindow,
		now:      o.now,
		expiry:   o.expiry,
		logger:   o.logger,
		recorder: o.recorder,
	}, nil
}

// Window returns the notification window.
func (s *Scanner) Window() time.Duration {
	return s.window
}

// Scan inspects every catalog record, matched to a local CSR or not. A
// record at or past its expiry yields CertificateExpired; one expiring
// within the window yields CertificateExpiring; anything else yields
// nothing. Records whose certificate cannot be parsed are skipped.
func (s *Scanner) Scan(catalog []CertificateRecord) []Event {
	start := time.Now()
	defer func() { s.recorder.ScanCompleted(time.Since(start)) }()

	now := s.now().UTC()
	var events []Event
	for _, r := range catalog {
		expiry, err := s.expiry(r.Certificate)
		if err != nil {
			s.logger.Warn("skipping certificate with unreadable expiry", "csr", Tag(r.CSR), "error", err)
			continue
		}
		remaining := expiry.Sub(now)
		switch {
		case remaining <= 0:
			events = append(events, CertificateExpired{Certificate: r.Certificate})
		case remaining <= s.window:
			events = append(events, CertificateExpiring{
				Certificate: r.Certificate,
				Expiry:      expiry.UTC().Format(time.RFC3339),
			})
		}
	}
	return events
}

// Tag returns a short stable identifier for csr, for log lines and
// listings that should not carry the whole PEM. Callers normalize first.
func Tag(csr string) string {
	sum := sha256.Sum256([]byte(csr))
	return hex.EncodeToString(sum[:6])
}

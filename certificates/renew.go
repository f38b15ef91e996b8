package certificates

import (
	"context"
	"log/slog"
)

// Renew replaces oldCSR with newCSR. Revoking oldCSR is best effort: any
// failure, including ErrNoSession, is logged and discarded. newCSR is always
// created and that result is returned.
func Renew(ctx context.Context, t CertificateTransport, oldCSR, newCSR string, logger *slog.Logger) error {
	if err := t.Revoke(ctx, oldCSR); err != nil && logger != nil {
		logger.Warn("renewal: revoking old CSR failed, creating new CSR anyway",
			"old_csr", Tag(Normalize(oldCSR)), "error", err)
	}
	return t.Create(ctx, newCSR)
}

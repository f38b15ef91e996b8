package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/storage"
)

// errCatalogNotArray marks a catalog payload whose top level is not a JSON
// array. It never escapes the package; the catalog is treated as empty.
var errCatalogNotArray = errors.New("catalog is not a JSON array")

// wireCertificate mirrors one catalog entry. Pointers distinguish absent
// fields from zero values.
type wireCertificate struct {
	CSR         *string  `json:"certificate_signing_request"`
	Certificate *string  `json:"certificate"`
	CA          *string  `json:"ca"`
	Chain       []string `json:"chain"`
	Revoked     *bool    `json:"revoked"`
}

// catalogResult is a parsed catalog with the bookkeeping callers log.
type catalogResult struct {
	records []CertificateRecord
	dropped int
	err     error
}

// ParseCatalog decodes the provider's catalog. Entries that are not objects,
// lack a non-empty certificate_signing_request or certificate, or carry
// fields of the wrong JSON type are dropped individually. Absent, empty or
// non-array input yields an empty catalog.
func ParseCatalog(raw string) []CertificateRecord {
	return parseCatalog(raw).records
}

func parseCatalog(raw string) catalogResult {
	if strings.TrimSpace(raw) == "" {
		return catalogResult{}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return catalogResult{err: errCatalogNotArray}
	}

	res := catalogResult{records: make([]CertificateRecord, 0, len(entries))}
	for _, entry := range entries {
		record, ok := parseCatalogEntry(entry)
		if !ok {
			res.dropped++
			continue
		}
		res.records = append(res.records, record)
	}
	return res
}

func parseCatalogEntry(entry json.RawMessage) (CertificateRecord, bool) {
	var w wireCertificate
	if err := json.Unmarshal(entry, &w); err != nil {
		return CertificateRecord{}, false
	}
	if w.CSR == nil || w.Certificate == nil {
		return CertificateRecord{}, false
	}
	csr := Normalize(*w.CSR)
	if csr == "" || *w.Certificate == "" {
		return CertificateRecord{}, false
	}

	record := CertificateRecord{
		CSR:         csr,
		Certificate: *w.Certificate,
		Chain:       w.Chain,
	}
	if w.CA != nil {
		record.CA = *w.CA
	}
	if record.Chain == nil {
		record.Chain = []string{}
	}
	if w.Revoked != nil {
		record.Revoked = *w.Revoked
	}
	return record, true
}

// readCatalog reads and parses the remote catalog of ch, logging and
// recording anything that was discarded.
func readCatalog(ctx context.Context, ch *channel.Channel, logger *slog.Logger, recorder Recorder) ([]CertificateRecord, error) {
	raw, _, err := ch.Read(ctx, storage.SideRemote, channel.KeyCertificates)
	if err != nil {
		return nil, err
	}
	res := parseCatalog(raw)
	if res.err != nil {
		logger.Warn("ignoring malformed catalog", "session_id", ch.ID(), "error", res.err)
	}
	if res.dropped > 0 {
		logger.Debug("dropped malformed catalog entries", "session_id", ch.ID(), "count", res.dropped)
		recorder.CatalogEntriesDropped(res.dropped)
	}
	return res.records, nil
}

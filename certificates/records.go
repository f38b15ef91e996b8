// Package certificates implements the requester side of the certificate
// issuance protocol.
//
// The requester publishes CSRs on the local side of a session channel and
// reads the provider's catalog of issued certificates from the remote side.
// Store owns the CSR list, ParseCatalog validates the catalog, Reconcile
// joins the two into lifecycle events, Scanner derives expiry events, and
// Renew composes revoke and create. Requirer binds them to one channel and
// delivers events to a Handler.
//
// State is read from the channel on every call. Nothing is cached, so a
// result always reflects the snapshot taken by that call.
package certificates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// CSRRecord is one outstanding certificate signing request as stored on the
// local side of the channel.
type CSRRecord struct {
	CSR string `json:"certificate_signing_request"`
}

// CertificateRecord is one entry of the provider's catalog. It only exists
// as the result of parsing remote data.
type CertificateRecord struct {
	CSR         string   `json:"certificate_signing_request"`
	Certificate string   `json:"certificate"`
	CA          string   `json:"ca"`
	Chain       []string `json:"chain"`
	Revoked     bool     `json:"revoked"`
}

// Normalize returns the identity of a CSR: its text without surrounding
// whitespace. Matching is byte-for-byte on the normalized form.
func Normalize(csr string) string {
	return strings.TrimSpace(csr)
}

// decodeCSRs decodes the stored CSR list. Absent or blank data is an empty
// list. Entries that normalize to an empty CSR, or repeat an earlier one,
// are skipped.
func decodeCSRs(data string, present bool) ([]CSRRecord, error) {
	if !present || strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var stored []CSRRecord
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	records := make([]CSRRecord, 0, len(stored))
	for _, r := range stored {
		csr := Normalize(r.CSR)
		if csr == "" || indexCSR(records, csr) >= 0 {
			continue
		}
		records = append(records, CSRRecord{CSR: csr})
	}
	return records, nil
}

// encodeCSRs renders records as the JSON array published on the channel.
// An empty list is "[]", never "null".
func encodeCSRs(records []CSRRecord) (string, error) {
	if records == nil {
		records = []CSRRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func indexCSR(records []CSRRecord, csr string) int {
	return slices.IndexFunc(records, func(r CSRRecord) bool {
		return r.CSR == csr
	})
}

package certificates

// Reconcile joins the stored CSRs against the catalog. Every catalog record
// whose CSR equals a stored CSR yields one event, in catalog order:
// CertificateRevoked when the record is revoked, CertificateAvailable
// otherwise. Records without a matching CSR are skipped.
//
// Matching is lexical on the normalized CSR text. A provider that re-encodes
// an equivalent CSR differently is not matched.
func Reconcile(csrs []CSRRecord, catalog []CertificateRecord) []Event {
	pending := make(map[string]struct{}, len(csrs))
	for _, r := range csrs {
		pending[Normalize(r.CSR)] = struct{}{}
	}

	var events []Event
	for _, r := range catalog {
		if _, ok := pending[Normalize(r.CSR)]; !ok {
			continue
		}
		if r.Revoked {
			events = append(events, newRevoked(r))
		} else {
			events = append(events, newAvailable(r))
		}
	}
	return events
}

package certificates

import "time"

// State is the logical lifecycle state of a CSR. It is derived from the
// store, the catalog and the clock; it is never persisted.
type State string

const (
	StateSubmitted    State = "submitted"
	StateIssued       State = "issued"
	StateExpiringSoon State = "expiring_soon"
	StateExpired      State = "expired"
	StateRevoked      State = "revoked"
	StateRemoved      State = "removed"
)

// CSRStatus is a stored CSR with its derived state.
type CSRStatus struct {
	CSR    string     `json:"certificate_signing_request"`
	State  State      `json:"state"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

// StateOf derives the state of csr. A CSR absent from csrs is Removed. A
// stored CSR with no catalog record is Submitted. Otherwise the last
// matching catalog record decides: Revoked if flagged, else Expired,
// ExpiringSoon or Issued by remaining lifetime. A certificate whose expiry
// cannot be read counts as Issued.
func (s *Scanner) StateOf(csr string, csrs []CSRRecord, catalog []CertificateRecord) State {
	state, _ := s.stateOf(Normalize(csr), csrs, catalog, s.now().UTC())
	return state
}

// Statuses returns the state of every stored CSR, in store order.
func (s *Scanner) Statuses(csrs []CSRRecord, catalog []CertificateRecord) []CSRStatus {
	now := s.now().UTC()
	out := make([]CSRStatus, 0, len(csrs))
	for _, r := range csrs {
		state, expiry := s.stateOf(r.CSR, csrs, catalog, now)
		out = append(out, CSRStatus{CSR: r.CSR, State: state, Expiry: expiry})
	}
	return out
}

func (s *Scanner) stateOf(csr string, csrs []CSRRecord, catalog []CertificateRecord, now time.Time) (State, *time.Time) {
	if indexCSR(csrs, csr) < 0 {
		return StateRemoved, nil
	}

	var match *CertificateRecord
	for i := range catalog {
		if catalog[i].CSR == csr {
			match = &catalog[i]
		}
	}
	if match == nil {
		return StateSubmitted, nil
	}
	if match.Revoked {
		return StateRevoked, nil
	}

	expiry, err := s.expiry(match.Certificate)
	if err != nil {
		return StateIssued, nil
	}
	expiry = expiry.UTC()
	switch remaining := expiry.Sub(now); {
	case remaining <= 0:
		return StateExpired, &expiry
	case remaining <= s.window:
		return StateExpiringSoon, &expiry
	default:
		return StateIssued, &expiry
	}
}

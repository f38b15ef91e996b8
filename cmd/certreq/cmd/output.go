package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jmcleod/certreq/api"
	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/pki"
)

// printEvents writes one JSON message per line.
func printEvents(w io.Writer, sessionID string, events []certificates.Event) error {
	enc := json.NewEncoder(w)
	now := time.Now()
	for _, ev := range events {
		if err := enc.Encode(api.NewMessage(sessionID, ev, now)); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(in io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "" || path == "-" {
		b, err = io.ReadAll(in)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

// csrLabel identifies a CSR compactly in tabular output.
func csrLabel(csr string) string {
	return certificates.Tag(certificates.Normalize(csr))
}

// csrSubject returns the subject DN of csr, or "-" when it is not a
// verifiable PEM request.
func csrSubject(csr string) string {
	info, err := pki.ParseCSRPEM(csr)
	if err != nil || info.Subject == "" {
		return "-"
	}
	return info.Subject
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

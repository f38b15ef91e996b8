package channel

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MaxSessionIDLength bounds session identifiers.
const MaxSessionIDLength = 256

// ErrInvalidSessionID is returned by Establish for malformed session IDs.
var ErrInvalidSessionID = errors.New("invalid session ID")

func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidSessionID)
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("%w: exceeds maximum length of %d", ErrInvalidSessionID, MaxSessionIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: contains invalid UTF-8", ErrInvalidSessionID)
	}
	for _, r := range id {
		// ':' separates side from key in record keys; '/' would break API paths.
		if r == ':' || r == '/' {
			return fmt.Errorf("%w: contains forbidden character %q", ErrInvalidSessionID, r)
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains control or space character", ErrInvalidSessionID)
		}
	}
	return nil
}

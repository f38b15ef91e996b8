package certificates

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession indicates the channel to the provider has not been
	// established, so there is nowhere to publish a CSR.
	ErrNoSession = errors.New("no session established")
	// ErrEmptyCSR indicates a CSR that is empty once surrounding whitespace
	// is removed.
	ErrEmptyCSR = errors.New("empty certificate signing request")
	// ErrCorruptStore indicates the stored CSR list could not be decoded.
	ErrCorruptStore = errors.New("corrupt certificate signing request store")
	// ErrInvalidWindow indicates a non-positive expiry notification window.
	ErrInvalidWindow = errors.New("expiry notification window must be positive")
)

// RevocationError reports a channel failure while removing a CSR. Revoking a
// CSR that is not stored, or revoking without a session, is not an error.
type RevocationError struct {
	CSR string
	Err error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("revoking certificate signing request: %v", e.Err)
}

func (e *RevocationError) Unwrap() error {
	return e.Err
}

package engine

import (
	"errors"
	"fmt"
)

// Sentinel classes for execution outcomes. Callers match with errors.Is; the
// wrapped detail carries the exchange response.
var (
	// ErrValidation marks structurally invalid input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrSchedulingTimeout marks an item dropped for staleness before or
	// during execution.
	ErrSchedulingTimeout = errors.New("scheduling timeout")
	// ErrAuthentication marks an invalid or expired credential. Never
	// retried; the credential is quarantined.
	ErrAuthentication = errors.New("authentication error")
	// ErrPersistenceConflict marks a ledger write conflict, resolved by
	// re-reading the record and re-applying the update.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

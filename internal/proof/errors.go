package proof

import (
	"errors"
	"fmt"
)

var (
	// ErrPublishInProgress means another publisher holds an unexpired lease
	// on the identity. Retry on a later tick.
	ErrPublishInProgress = errors.New("publish in progress elsewhere")

	// ErrOutcomeUnknown means the ledger call timed out. The claim may have
	// landed; the identity stays leased until the lease expires.
	ErrOutcomeUnknown = errors.New("ledger outcome unknown")

	// ErrUnparseableScore means a report has no structured score and no
	// readable "Score: N/100" line.
	ErrUnparseableScore = errors.New("report score unparseable")
)

// HashMismatchError means an artifact's recomputed content hash differs from
// the hash it was recorded with. Fatal for that artifact only.
type HashMismatchError struct {
	Identity string
	Expected string
	Actual   string

	// Canonical is the payload that produced Actual.
	Canonical []byte
}

// Error implements the error interface.
func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch for %s: recorded %s, recomputed %s", e.Identity, e.Expected, e.Actual)
}

// IsHashMismatch returns true if err is or wraps a HashMismatchError.
func IsHashMismatch(err error) bool {
	var he *HashMismatchError
	return errors.As(err, &he)
}

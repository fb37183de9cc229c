package ledger

import (
	"errors"
	"fmt"

	"ledger-api/internal/risk"
)

// ErrAccountNotFound is returned when the mutation targets a missing account.
var ErrAccountNotFound = errors.New("account not found")

// ErrInvalidMutation is returned for structurally invalid requests: zero
// amounts, unknown categories, or inactive target accounts.
var ErrInvalidMutation = errors.New("invalid mutation")

// ErrBlockedBySuspiciousActivity is the sentinel matched by errors.Is when a
// mutation is refused by risk screening. The concrete error is *BlockedError.
var ErrBlockedBySuspiciousActivity = errors.New("mutation blocked by suspicious activity")

// BlockedError reports a refused mutation. The balance did not move; the
// blocked audit entry and the opened dispute let the caller point the user at
// the review process.
type BlockedError struct {
	EntryID   string
	DisputeID string
	Verdict   *risk.Verdict
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("mutation blocked by suspicious activity (risk score %d)", e.Verdict.RiskScore)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlockedBySuspiciousActivity
}

// StorageError wraps infrastructure failures so callers can distinguish
// retryable storage trouble from domain refusals.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// invalidf wraps ErrInvalidMutation with a detail message.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMutation, fmt.Sprintf(format, args...))
}

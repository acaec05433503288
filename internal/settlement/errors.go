package settlement

import (
	"errors"
	"fmt"
)

// ErrTransactionNotFound is returned for an unknown transaction id.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrAlreadyReversed is returned when a reversal targets a transaction that
// was already reversed.
var ErrAlreadyReversed = errors.New("transaction already reversed")

// ErrNotReversible is returned when a reversal targets a transaction that is
// not in Posted state or is itself a reversal.
var ErrNotReversible = errors.New("transaction is not reversible")

// ErrNoticeNotFound is returned for an unknown withdrawal notice id.
var ErrNoticeNotFound = errors.New("withdrawal notice not found")

// ErrNoticeNotUsable is returned when a withdrawal references a notice that
// is expired, consumed or belongs to a different account.
var ErrNoticeNotUsable = errors.New("withdrawal notice not usable")

// ValidationError rejects a malformed request before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

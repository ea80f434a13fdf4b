/*
errors.go - Sentinel errors for the ledger package

PURPOSE:
  Centralized error values. Collaborating packages wrap these with context
  and match them with errors.Is.

ERROR CATEGORIES:
  1. Persistence errors - duplicate idempotency key, missing entry
  2. Data errors - malformed accrual metadata, unbalanced entries
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrEntryNotFound is returned when a referenced entry does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrMalformedPeriod is returned when an entry's accrual month/year
	// cannot be resolved by any parsing tier.
	ErrMalformedPeriod = errors.New("malformed accrual period")

	// ErrUnbalancedEntry is returned when an entry's debit and credit
	// totals do not match. Persisting such an entry is never allowed.
	ErrUnbalancedEntry = errors.New("entry debits do not equal credits")
)

// UnbalancedEntryError carries the computed totals of a rejected entry.
type UnbalancedEntryError struct {
	EntryID string
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("entry %s unbalanced: debit %s != credit %s",
		e.EntryID, e.Debit.String(), e.Credit.String())
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalancedEntry }

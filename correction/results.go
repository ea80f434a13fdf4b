/*
results.go - Structured operation results

PURPOSE:
  Correction operations return result objects rather than errors for
  expected conditions: "nothing to correct" and "tenancy not found" are
  outcomes, not exceptions. Only infrastructure failures surface as Go
  errors.
*/
package correction

import (
	"time"

	"github.com/domus/housing-ledger/ledger"
)

type Outcome string

const (
	OutcomeCorrected        Outcome = "corrected"
	OutcomeNothingToCorrect Outcome = "nothing_to_correct"
	OutcomeFailed           Outcome = "failed"
)

// ReversedAccrual records one reversal that was persisted.
type ReversedAccrual struct {
	OriginalEntryID string
	ReversalEntryID string
	Period          ledger.AccrualPeriod
}

// ItemError records a per-accrual failure that did not abort the run
// (balance assertion failures).
type ItemError struct {
	EntryID string
	Err     string
}

// SideEffects reports the cascade applied after the ledger writes.
type SideEffects struct {
	EndDateUpdated bool
	TenancyExpired bool
	DebtorExpired  bool
	RoomReleased   bool

	// Failures lists best-effort cascade steps that did not complete.
	// They never roll back the ledger writes.
	Failures []string
}

// CorrectionResult is returned by Service.CorrectTenancy.
type CorrectionResult struct {
	TenancyID     string
	Outcome       Outcome
	FailureReason string

	OldEndDate *time.Time
	NewEndDate time.Time

	Reversed    []ReversedAccrual
	Skipped     []SkippedAccrual
	Errors      []ItemError
	SideEffects SideEffects

	// RenewalID is set when a renewal tenancy shielded later months.
	RenewalID string
}

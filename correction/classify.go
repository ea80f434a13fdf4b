/*
classify.go - Incorrect-accrual classification

PURPOSE:
  The single pure decision procedure for "is this accrual incorrect given
  the (corrected) end date". Both the single-tenancy correction and the
  bulk auditor call this, which is what makes their answers identical for
  any tenancy.

RULES, in order per accrual:
  - reversal entries are never candidates
  - already-reversed accruals (flag, or a reversal referencing them) are
    skipped, not re-reversed
  - lease-start accruals are incorrect iff the corrected end date precedes
    the tenancy's start date (cancel-before-start)
  - monthly accruals are incorrect iff the first day of their month falls
    after the corrected end date AND no renewal covers the month
*/
package correction

import (
	"time"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// SkipReason explains why an accrual was not selected for reversal.
type SkipReason string

const (
	SkipAlreadyReversed   SkipReason = "already_reversed"
	SkipWithinLease       SkipReason = "within_lease"
	SkipCoveredByRenewal  SkipReason = "covered_by_renewal"
	SkipLeaseStartValid   SkipReason = "lease_start_valid"
	SkipNotAccrual        SkipReason = "not_an_accrual"
)

// SkippedAccrual records one accrual left untouched and why.
type SkippedAccrual struct {
	Accrual MatchedAccrual
	Reason  SkipReason
}

// Classification partitions a tenancy's accruals.
type Classification struct {
	Incorrect []MatchedAccrual
	Skipped   []SkippedAccrual
}

// ClassifyAccruals applies the rules above. reversedRefs is the derived
// "already reversed" predicate: the set of original entry ids referenced by
// existing reversal entries.
func ClassifyAccruals(
	t housing.Tenancy,
	correctedEnd time.Time,
	accruals []MatchedAccrual,
	renewal *housing.Tenancy,
	reversedRefs map[string]bool,
) Classification {
	var c Classification

	for _, a := range accruals {
		e := a.Entry

		if e.Source != ledger.SourceRentalAccrual {
			c.Skipped = append(c.Skipped, SkippedAccrual{Accrual: a, Reason: SkipNotAccrual})
			continue
		}
		if e.Reversed || reversedRefs[e.ID] {
			c.Skipped = append(c.Skipped, SkippedAccrual{Accrual: a, Reason: SkipAlreadyReversed})
			continue
		}

		if e.Meta.AccrualKind == ledger.KindLeaseStart {
			// Exempt from the after-end-date rule unless the lease was
			// cancelled before it began.
			if correctedEnd.Before(t.StartDate) {
				c.Incorrect = append(c.Incorrect, a)
			} else {
				c.Skipped = append(c.Skipped, SkippedAccrual{Accrual: a, Reason: SkipLeaseStartValid})
			}
			continue
		}

		if !a.Period.After(correctedEnd) {
			c.Skipped = append(c.Skipped, SkippedAccrual{Accrual: a, Reason: SkipWithinLease})
			continue
		}
		if RenewalCovers(renewal, a.Period) {
			c.Skipped = append(c.Skipped, SkippedAccrual{Accrual: a, Reason: SkipCoveredByRenewal})
			continue
		}

		c.Incorrect = append(c.Incorrect, a)
	}
	return c
}

// ReversedRefSet derives the already-reversed predicate from a list of
// reversal entries: every original entry id any of them names. Transaction
// ids deliberately never enter the set - accruals of one tenancy share
// theirs, and a shared id would mark every sibling reversed as soon as one
// reversal exists.
func ReversedRefSet(reversals []ledger.Entry) map[string]bool {
	set := make(map[string]bool)
	for _, r := range reversals {
		if r.Meta.ReversedEntryID != "" {
			set[r.Meta.ReversedEntryID] = true
		}
		if r.Meta.Reference != "" {
			set[r.Meta.Reference] = true
		}
	}
	return set
}

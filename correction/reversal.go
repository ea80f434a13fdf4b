/*
reversal.go - Reversal Generator

PURPOSE:
  Synthesizes the balancing entry that offsets one confirmed-incorrect
  accrual. Construction rules:

    - every line reappears with debit and credit swapped
    - receivable-family lines are re-pointed at the tenancy's CURRENT
      canonical account code, with the account name regenerated from the
      tenant's current name; reversals always land against the live
      receivable account even if the original used a stale code
    - entry-level totals are recomputed from the swapped lines, never
      copied, and must balance - failing that is fatal for this one entry
      only

  Idempotency preconditions (does a reversal already reference this
  original, is the original already flagged) are checked by the caller
  against the store; see service.go.
*/
package correction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// ReversalInput carries everything needed to build one reversal entry.
type ReversalInput struct {
	Original      ledger.Entry
	Period        ledger.AccrualPeriod
	Tenancy       housing.Tenancy
	CanonicalCode string
	Reason        string
	Actor         string
	OldEndDate    *time.Time
	NewEndDate    time.Time
	Now           time.Time
}

// BuildReversal constructs the balanced reversal entry for an incorrect
// accrual. It does not persist anything.
func BuildReversal(in ReversalInput) (ledger.Entry, error) {
	orig := in.Original

	lines := make([]ledger.Line, 0, len(orig.Lines))
	for _, l := range orig.Lines {
		rl := ledger.Line{
			AccountCode: l.AccountCode,
			AccountName: l.AccountName,
			AccountType: l.AccountType,
			Debit:       l.Credit, // swapped
			Credit:      l.Debit,  // swapped
			Description: fmt.Sprintf("Reversal: %s", l.Description),
		}
		if l.IsReceivable() {
			rl.AccountCode = in.CanonicalCode
			rl.AccountName = receivableAccountName(in.Tenancy)
			rl.AccountType = ledger.AccountTypeReceivable
		}
		lines = append(lines, rl)
	}

	e := ledger.Entry{
		ID:            uuid.NewString(),
		TransactionID: uuid.NewString(),
		Date:          in.Now,
		Description: fmt.Sprintf("Reversal of rental accrual %s for tenancy %s: %s",
			in.Period, in.Tenancy.ID, in.Reason),
		Source: ledger.SourceRentalAccrualReversal,
		Status: ledger.StatusPosted,
		Lines:  lines,
		Meta: ledger.Meta{
			AccrualMonth: int(in.Period.Month),
			AccrualYear:  in.Period.Year,
			AccrualKind:  orig.Meta.AccrualKind,

			TenancyID: in.Tenancy.ID,
			PersonID:  in.Tenancy.PersonID,
			DebtorID:  in.Tenancy.DebtorID,

			// The original is referenced by entry id only. Its correlation id
			// is shared by every accrual of the tenancy and can never identify
			// one original.
			ReversedEntryID: orig.ID,
			Reference:       orig.ID,

			Reason:     in.Reason,
			Actor:      in.Actor,
			OldEndDate: in.OldEndDate,
			NewEndDate: &in.NewEndDate,
		},
		IdempotencyKey: "reversal:" + orig.ID,
		CreatedAt:      in.Now,
	}

	// Recomputed from the swapped lines; never copied from the original.
	if !e.Balanced() {
		return ledger.Entry{}, &ledger.UnbalancedEntryError{
			EntryID: orig.ID,
			Debit:   e.TotalDebit(),
			Credit:  e.TotalCredit(),
		}
	}
	return e, nil
}

func receivableAccountName(t housing.Tenancy) string {
	if t.TenantName != "" {
		return "Receivable - " + t.TenantName
	}
	return "Receivable - tenancy " + t.ID
}

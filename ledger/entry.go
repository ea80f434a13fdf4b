/*
entry.go - Double-entry ledger records

PURPOSE:
  Defines Entry, the atomic unit of the accounting subsystem. Every rent
  obligation and every correction is an Entry with debit/credit lines per
  account code. Entries are append-only: once posted they are never edited
  or deleted. Corrections are made by appending a balancing reversal entry.

CRITICAL INVARIANTS:
  1. BALANCED: sum(debits) == sum(credits) across all lines, to the cent
  2. APPEND-ONLY: lines are immutable after posting; only the non-
     authoritative Reversed flag may be set afterwards
  3. TRACEABLE: every entry carries a correlation id plus the tenancy /
     person / debtor identifiers that were current when it was created

IDENTIFIER DRIFT:
  Historical data tagged accruals inconsistently across a multi-year
  migration: sometimes via the entry-level TransactionID, sometimes via
  the primary Meta fields, sometimes via the legacy alias fields, and
  sometimes only through the receivable line's account code. Matching is
  therefore always done against all four positions (see MatchesIdentifier).

SEE ALSO:
  - period.go: accrual month/year resolution
  - store.go: persistence interfaces
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SOURCE & STATUS
// =============================================================================

// Source discriminates what produced an entry.
type Source string

const (
	SourceRentalAccrual         Source = "rental_accrual"
	SourceRentalAccrualReversal Source = "rental_accrual_reversal"
)

// Status of an entry. Entries are never physically mutated once posted;
// "deleted" means superseded, and such entries are excluded from matching.
type Status string

const (
	StatusPosted  Status = "posted"
	StatusDeleted Status = "deleted"
)

// AccrualKind distinguishes the lease-start proration entry from the
// recurring monthly entries. Lease-start entries are exempt from the
// after-end-date rule unless the lease was cancelled before it began.
type AccrualKind string

const (
	KindLeaseStart AccrualKind = "lease_start"
	KindMonthly    AccrualKind = "monthly"
)

// =============================================================================
// RECEIVABLE ACCOUNT CODES
// =============================================================================

// ReceivablePrefix is the account-code family for tenant receivables.
// Historically codes were synthesized as "1100-"+<some id>; debtors may
// also carry an assigned canonical code that does not follow this shape.
const ReceivablePrefix = "1100-"

// IncomeAccountCode is the rental income account credited by accruals.
const IncomeAccountCode = "4000"

// ReceivableCode synthesizes the prefixed receivable code for an id.
func ReceivableCode(id string) string { return ReceivablePrefix + id }

// IsReceivableCode reports whether an account code belongs to the
// receivable family, either by prefix or by account type on the line.
func IsReceivableCode(code string) bool { return strings.HasPrefix(code, ReceivablePrefix) }

// AccountTypeReceivable marks receivable lines independently of their code,
// covering debtor-assigned canonical codes outside the "1100-" family.
const AccountTypeReceivable = "receivable"

// =============================================================================
// LINE - One account's debit/credit within an entry
// =============================================================================

type Line struct {
	AccountCode string
	AccountName string
	AccountType string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// IsReceivable reports whether this line posts against a tenant receivable.
func (l Line) IsReceivable() bool {
	return l.AccountType == AccountTypeReceivable || IsReceivableCode(l.AccountCode)
}

// =============================================================================
// META - Correlation and accrual metadata
// =============================================================================

// Meta is the metadata bag carried by every entry. TenancyID/PersonID/
// DebtorID are the current field names; ApplicationRef and StudentRef are
// the legacy aliases still present on older entries.
type Meta struct {
	AccrualMonth  int         // 1-12, 0 when absent
	AccrualYear   int         // 0 when absent
	AccrualPeriod string      // legacy "YYYY-MM" form, "" when absent
	AccrualKind   AccrualKind // "" on entries predating the field

	TenancyID string
	PersonID  string
	DebtorID  string

	ApplicationRef string // legacy alias for TenancyID
	StudentRef     string // legacy alias for PersonID

	// Reversal back-references (set only on rental_accrual_reversal entries).
	// The forward direction (original -> reversal) is always derived by
	// lookup, never stored. ReversedEntryID is authoritative;
	// ReversedTransactionID survives on older rows but never decides whether
	// an original is reversed, because correlation ids are shared across a
	// tenancy's accruals.
	ReversedEntryID       string
	ReversedTransactionID string
	Reference             string

	Reason     string
	Actor      string
	OldEndDate *time.Time
	NewEndDate *time.Time
}

// =============================================================================
// ENTRY - Atomic double-entry record
// =============================================================================

type Entry struct {
	ID            string
	TransactionID string // stable correlation id; historical data reused tenancy/person ids here
	Date          time.Time
	Description   string
	Source        Source
	Status        Status
	Lines         []Line
	Meta          Meta

	// Reversed is a non-authoritative convenience flag. The authoritative
	// predicate is "does a reversal entry reference this one", derived from
	// the ledger itself.
	Reversed bool

	IdempotencyKey string
	CreatedAt      time.Time
}

// TotalDebit sums debit amounts across all lines.
func (e Entry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums credit amounts across all lines.
func (e Entry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// Balanced reports whether debits equal credits exactly.
func (e Entry) Balanced() bool {
	return e.TotalDebit().Equal(e.TotalCredit())
}

// MatchesIdentifier reports whether the entry is tagged with the identifier
// in any of the four correlation positions: the entry-level correlation id,
// the primary metadata fields, the legacy alias fields, or a line's account
// code.
func (e Entry) MatchesIdentifier(id string) bool {
	if id == "" {
		return false
	}
	if e.TransactionID == id {
		return true
	}
	if e.Meta.TenancyID == id || e.Meta.PersonID == id || e.Meta.DebtorID == id {
		return true
	}
	if e.Meta.ApplicationRef == id || e.Meta.StudentRef == id {
		return true
	}
	for _, l := range e.Lines {
		if l.AccountCode == id {
			return true
		}
	}
	return false
}

// MatchesAnyIdentifier reports whether any identifier in the set matches.
func (e Entry) MatchesAnyIdentifier(ids []string) bool {
	for _, id := range ids {
		if e.MatchesIdentifier(id) {
			return true
		}
	}
	return false
}

// MatchesAccountCode reports whether any line is posted against one of the
// given account codes. This is the narrower tier-two match used when the
// correlation fields were never populated.
func (e Entry) MatchesAccountCode(codes []string) bool {
	for _, l := range e.Lines {
		for _, c := range codes {
			if l.AccountCode == c {
				return true
			}
		}
	}
	return false
}

// ReferencesOriginal reports whether this reversal entry points at any of
// the given original entry ids or correlation ids.
func (e Entry) ReferencesOriginal(refs []string) bool {
	for _, r := range refs {
		if r == "" {
			continue
		}
		if e.Meta.ReversedEntryID == r || e.Meta.ReversedTransactionID == r || e.Meta.Reference == r {
			return true
		}
	}
	return false
}

// ReversalRefs returns the identifiers under which a reversal of this entry
// is recorded: the entry id only. The correlation id is shared by all of a
// tenancy's accruals, so a reversal found under it could belong to any
// sibling.
func (e Entry) ReversalRefs() []string {
	return []string{e.ID}
}

/*
store.go - Persistence interfaces for ledger entries

PURPOSE:
  Defines the contract between the correction/accrual engines and the
  database. Implementations: store/sqlite (production), store/memory
  (tests/dev).

APPEND-ONLY CONTRACT:
  - Append / AppendBatch are the only ways entries enter the store
  - No Update or Delete methods exist for entry lines
  - MarkReversed sets the single non-authoritative convenience flag and
    touches nothing else

QUERY SHAPE:
  The finders mirror the three-tier matching strategy: identifier search
  across all correlation positions, narrower account-code search, and the
  reverse lookup "which reversals reference these originals". All finders
  exclude entries with status "deleted".

SEE ALSO:
  - entry.go: the matching predicates implementations must honor
  - correction/matcher.go: how the tiers are combined
*/
package ledger

import (
	"context"
	"time"
)

// EntryStore persists ledger entries. Append-only; see package comment.
type EntryStore interface {
	// Append persists one entry. Fails with ErrDuplicateIdempotencyKey if
	// the entry's idempotency key already exists, and ErrUnbalancedEntry
	// if its lines do not balance.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Get returns one entry by id, or ErrEntryNotFound.
	Get(ctx context.Context, id string) (Entry, error)

	// FindBySource returns posted entries of the given source tagged with
	// any of the identifiers in any correlation position (correlation id,
	// primary meta fields, legacy alias fields, or line account code).
	FindBySource(ctx context.Context, source Source, identifiers []string) ([]Entry, error)

	// FindByAccountCodes returns posted entries of the given source whose
	// lines post against any of the account codes. Used as the fallback
	// when correlation fields were never populated.
	FindByAccountCodes(ctx context.Context, source Source, codes []string) ([]Entry, error)

	// FindReversalsReferencing returns posted reversal entries whose
	// back-reference fields name any of the given original ids or
	// correlation ids.
	FindReversalsReferencing(ctx context.Context, refs []string) ([]Entry, error)

	// MarkReversed sets the convenience flag on an original entry. The
	// entry's lines and metadata are untouched.
	MarkReversed(ctx context.Context, id string) error

	// Exists checks whether an idempotency key has been used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// AUDIT LOG - Who did what when. Append-only, separate from the ledger.
// =============================================================================

type AuditAction string

const (
	AuditAccrualPosted    AuditAction = "accrual_posted"
	AuditReversalPosted   AuditAction = "reversal_posted"
	AuditEndDateCorrected AuditAction = "end_date_corrected"
	AuditTenancyExpired   AuditAction = "tenancy_expired"
	AuditDebtorExpired    AuditAction = "debtor_expired"
	AuditRoomReleased     AuditAction = "room_released"
)

// AuditEntry records one action with before/after context in Payload.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	TenancyID string
	PersonID  string
	DebtorID  string
	Payload   map[string]any
}

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	ByTenancy(ctx context.Context, tenancyID string) ([]AuditEntry, error)
}

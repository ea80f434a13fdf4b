/*
service.go - Single-tenancy correction

PURPOSE:
  Orchestrates one correction: resolve identity, match accruals, detect
  renewals, classify, then write the reversals and lease-end updates.

TRANSACTION SCOPE:
  All ledger mutations for one correction - reversal entries, the tenancy
  end date/status, the debtor status - commit together or not at all. The
  room-occupancy decrement is best-effort and runs after commit; its
  failure never rolls back the ledger.

IDEMPOTENCY:
  Two concurrent corrections for the same tenancy cannot both reverse the
  same accrual: inside the transaction each candidate is re-checked
  against the store, and the reversal's idempotency key is derived from
  the original entry id. The second invocation observes the first's
  reversal and no-ops.

SEE ALSO:
  - classify.go: the shared decision procedure (also used by the auditor)
  - sideeffects.go: the lease-end cascade
*/
package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// Stores bundles the collaborators a correction writes to. The same bundle
// shape is handed to WithTx callbacks so every write lands in one scope.
type Stores struct {
	Entries   ledger.EntryStore
	Tenancies housing.TenancyStore
	Debtors   housing.DebtorStore
	Audit     ledger.AuditLog
}

// TxRunner executes fn within one commit-or-abort scope.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// CorrectionRequest asks to correct one tenancy to an actual end date.
type CorrectionRequest struct {
	TenancyID string
	EndDate   time.Time
	Reason    string
	Actor     string
}

// Service is the single-tenancy correction engine.
type Service struct {
	Stores Stores
	Tx     TxRunner
	Rooms  housing.RoomStore
	Clock  func() time.Time
	Log    *zap.Logger
}

func NewService(stores Stores, tx TxRunner, rooms housing.RoomStore, log *zap.Logger) *Service {
	return &Service{Stores: stores, Tx: tx, Rooms: rooms, Clock: time.Now, Log: log}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// CorrectTenancy applies an end-date correction: reverses every accrual
// confirmed incorrect and cascades the lease-end side effects. Expected
// conditions ("nothing to correct", "tenancy not found") come back in the
// result; only infrastructure failures return a non-nil error.
func (s *Service) CorrectTenancy(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error) {
	now := s.now()
	res := &CorrectionResult{TenancyID: req.TenancyID, NewEndDate: req.EndDate}

	t, err := s.Stores.Tenancies.Get(ctx, req.TenancyID)
	if errors.Is(err, housing.ErrTenancyNotFound) {
		res.Outcome = OutcomeFailed
		res.FailureReason = "tenancy_not_found"
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenancy %s: %w", req.TenancyID, err)
	}
	res.OldEndDate = t.EndDate

	debtors, err := s.debtorsFor(ctx, t)
	if err != nil {
		return nil, err
	}

	// Identity is resolved fresh every run; canonical codes can change.
	ids := ResolveIdentifiers(t, debtors)

	matcher := &Matcher{
		Entries:   s.Stores.Entries,
		Tenancies: s.Stores.Tenancies,
		Debtors:   s.Stores.Debtors,
		Log:       s.Log,
	}
	accruals, err := matcher.FindAccruals(ctx, t, ids)
	if err != nil {
		return nil, err
	}

	detector := &RenewalDetector{Tenancies: s.Stores.Tenancies}
	renewal, err := detector.RenewalFor(ctx, t, req.EndDate)
	if err != nil {
		return nil, err
	}
	if renewal != nil {
		res.RenewalID = renewal.ID
	}

	reversedRefs, err := s.reversedRefsFor(ctx, accruals)
	if err != nil {
		return nil, err
	}

	cls := ClassifyAccruals(t, req.EndDate, accruals, renewal, reversedRefs)
	res.Skipped = cls.Skipped

	endChanged := t.EndDate == nil || !t.EndDate.Equal(req.EndDate)
	if len(cls.Incorrect) == 0 && !endChanged {
		res.Outcome = OutcomeNothingToCorrect
		return res, nil
	}

	canonical := CanonicalAccountCode(t, debtors)

	txErr := s.Tx.WithTx(ctx, func(tx Stores) error {
		for _, a := range cls.Incorrect {
			if err := s.reverseOne(ctx, tx, t, a, canonical, req, now, res); err != nil {
				return err
			}
		}
		return s.applyLeaseEnd(ctx, tx, t, req, now, res)
	})
	if txErr != nil {
		// The whole scope aborted; the ledger is exactly as it was.
		return &CorrectionResult{
			TenancyID:     req.TenancyID,
			Outcome:       OutcomeFailed,
			FailureReason: txErr.Error(),
			OldEndDate:    t.EndDate,
			NewEndDate:    req.EndDate,
		}, txErr
	}

	// Best-effort cascade outside the ledger transaction.
	if res.SideEffects.TenancyExpired && t.RoomID != "" {
		s.releaseRoom(ctx, t, req.Actor, now, res)
	}

	res.Outcome = OutcomeCorrected
	if s.Log != nil {
		s.Log.Info("tenancy corrected",
			zap.String("tenancy_id", t.ID),
			zap.Int("reversed", len(res.Reversed)),
			zap.Int("skipped", len(res.Skipped)),
			zap.Int("item_errors", len(res.Errors)))
	}
	return res, nil
}

// reverseOne persists the reversal for one incorrect accrual, re-checking
// the idempotency preconditions inside the transaction.
func (s *Service) reverseOne(
	ctx context.Context,
	tx Stores,
	t housing.Tenancy,
	a MatchedAccrual,
	canonical string,
	req CorrectionRequest,
	now time.Time,
	res *CorrectionResult,
) error {
	// Precondition (a): an existing reversal referencing this original's
	// entry id. Precondition (b): the original's own flag.
	existing, err := tx.Entries.FindReversalsReferencing(ctx, a.Entry.ReversalRefs())
	if err != nil {
		return fmt.Errorf("reversal precondition for entry %s: %w", a.Entry.ID, err)
	}
	if len(existing) > 0 || a.Entry.Reversed {
		res.Skipped = append(res.Skipped, SkippedAccrual{Accrual: a, Reason: SkipAlreadyReversed})
		return nil
	}

	rev, err := BuildReversal(ReversalInput{
		Original:      a.Entry,
		Period:        a.Period,
		Tenancy:       t,
		CanonicalCode: canonical,
		Reason:        req.Reason,
		Actor:         req.Actor,
		OldEndDate:    t.EndDate,
		NewEndDate:    req.EndDate,
		Now:           now,
	})
	if err != nil {
		// Balance assertion failure: fatal for this entry only. The rest of
		// the correction still commits.
		res.Errors = append(res.Errors, ItemError{EntryID: a.Entry.ID, Err: err.Error()})
		if s.Log != nil {
			s.Log.Error("reversal construction failed",
				zap.String("entry_id", a.Entry.ID),
				zap.Error(err))
		}
		return nil
	}

	if err := tx.Entries.Append(ctx, rev); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			res.Skipped = append(res.Skipped, SkippedAccrual{Accrual: a, Reason: SkipAlreadyReversed})
			return nil
		}
		return fmt.Errorf("persist reversal for entry %s: %w", a.Entry.ID, err)
	}
	if err := tx.Entries.MarkReversed(ctx, a.Entry.ID); err != nil {
		return fmt.Errorf("flag entry %s reversed: %w", a.Entry.ID, err)
	}

	if err := tx.Audit.Append(ctx, ledger.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   req.Actor,
		Action:    ledger.AuditReversalPosted,
		TenancyID: t.ID,
		PersonID:  t.PersonID,
		DebtorID:  t.DebtorID,
		Payload: map[string]any{
			"original_entry_id": a.Entry.ID,
			"reversal_entry_id": rev.ID,
			"period":            a.Period.String(),
			"reason":            req.Reason,
		},
	}); err != nil {
		return fmt.Errorf("audit reversal for entry %s: %w", a.Entry.ID, err)
	}

	res.Reversed = append(res.Reversed, ReversedAccrual{
		OriginalEntryID: a.Entry.ID,
		ReversalEntryID: rev.ID,
		Period:          a.Period,
	})
	return nil
}

// debtorsFor loads the tenancy's debtors: the direct link first, then any
// others associated with the person.
func (s *Service) debtorsFor(ctx context.Context, t housing.Tenancy) ([]housing.Debtor, error) {
	var debtors []housing.Debtor
	seen := make(map[string]bool)

	if t.DebtorID != "" {
		d, err := s.Stores.Debtors.Get(ctx, t.DebtorID)
		if err != nil && !errors.Is(err, housing.ErrDebtorNotFound) {
			return nil, fmt.Errorf("load debtor %s: %w", t.DebtorID, err)
		}
		if err == nil {
			debtors = append(debtors, d)
			seen[d.ID] = true
		}
	}
	if t.PersonID != "" {
		more, err := s.Stores.Debtors.FindByPerson(ctx, t.PersonID)
		if err != nil {
			return nil, fmt.Errorf("debtors for person %s: %w", t.PersonID, err)
		}
		for _, d := range more {
			if !seen[d.ID] {
				debtors = append(debtors, d)
				seen[d.ID] = true
			}
		}
	}
	return debtors, nil
}

// reversedRefsFor loads, in one query, the derived already-reversed
// predicate for a set of accruals.
func (s *Service) reversedRefsFor(ctx context.Context, accruals []MatchedAccrual) (map[string]bool, error) {
	var refs []string
	for _, a := range accruals {
		refs = append(refs, a.Entry.ReversalRefs()...)
	}
	if len(refs) == 0 {
		return map[string]bool{}, nil
	}
	reversals, err := s.Stores.Entries.FindReversalsReferencing(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load existing reversals: %w", err)
	}
	return ReversedRefSet(reversals), nil
}

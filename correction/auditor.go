/*
auditor.go - Bulk Auditor

PURPOSE:
  System-wide scan for tenancies with unreversed incorrect accruals.
  Read-only and always safe to run alongside corrections; results are
  advisory snapshots.

COST MODEL:
  O(tenancies + accruals), not O(tenancies x accruals):
    1. one query for all ended tenancies
    2. one query for all candidate accruals and one for all reversals,
       issued concurrently over the union identifier set
    3. one query pre-loading every renewal-candidate tenancy per person
    4. one query for the persons' debtors
  Everything after that is a single in-memory pass over lookup indexes -
  no per-tenancy round-trips.

  Classification reuses classify.go, so for any tenancy the auditor's
  "incorrect accruals" equal exactly what the single-tenancy correction
  would reverse.
*/
package correction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// maxVerboseFlagged bounds per-tenancy detail logging on full-dataset runs.
const maxVerboseFlagged = 25

// OffendingAccrual is one unreversed incorrect accrual in a report.
type OffendingAccrual struct {
	EntryID string
	Period  ledger.AccrualPeriod
	Kind    ledger.AccrualKind

	// PostedAfterEdit marks accruals created after the tenancy's end date
	// was edited - a strong signal the accrual is a stale artifact of an
	// earlier, wrong end date.
	PostedAfterEdit bool
}

// FlaggedTenancy is one tenancy with at least one offending accrual.
type FlaggedTenancy struct {
	TenancyID     string
	PersonID      string
	Status        housing.TenancyStatus
	EndDate       time.Time
	EndDateEdited bool
	RenewalID     string
	Accruals      []OffendingAccrual
}

// AuditReport is returned by Auditor.Scan. Nothing is mutated to produce it.
type AuditReport struct {
	Target           ledger.AccrualPeriod
	ScannedTenancies int
	AccrualsLoaded   int
	ReversalsLoaded  int
	Flagged          []FlaggedTenancy
}

// Auditor runs the bulk consistency scan.
type Auditor struct {
	Entries   ledger.EntryStore
	Tenancies housing.TenancyStore
	Debtors   housing.DebtorStore
	Clock     func() time.Time
	Log       *zap.Logger
}

// Scan audits every ended tenancy up to the target month (zero value means
// "now").
func (a *Auditor) Scan(ctx context.Context, target ledger.AccrualPeriod) (*AuditReport, error) {
	if target.IsZero() {
		now := time.Now()
		if a.Clock != nil {
			now = a.Clock()
		}
		target = ledger.PeriodOf(now)
	}
	report := &AuditReport{Target: target}

	tenancies, err := a.Tenancies.ListEnded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ended tenancies: %w", err)
	}
	report.ScannedTenancies = len(tenancies)
	if len(tenancies) == 0 {
		return report, nil
	}

	personIDs := uniquePersonIDs(tenancies)

	debtors, err := a.Debtors.FindByPersons(ctx, personIDs)
	if err != nil {
		return nil, fmt.Errorf("preload debtors: %w", err)
	}
	debtorsByPerson := groupDebtors(debtors)

	// Union identifier set across all tenancies.
	var union []string
	unionSeen := make(map[string]bool)
	idsByTenancy := make(map[string]IdentifierSet, len(tenancies))
	for _, t := range tenancies {
		ids := ResolveIdentifiers(t, debtorsByPerson[t.PersonID])
		idsByTenancy[t.ID] = ids
		for _, id := range ids {
			if !unionSeen[id] {
				unionSeen[id] = true
				union = append(union, id)
			}
		}
	}

	// The accrual and reversal loads have no ordering dependency; issue
	// them concurrently before the sequential in-memory pass.
	var (
		wg        sync.WaitGroup
		accruals  []ledger.Entry
		reversals []ledger.Entry
		accErr    error
		revErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		accruals, accErr = a.Entries.FindBySource(ctx, ledger.SourceRentalAccrual, union)
	}()
	go func() {
		defer wg.Done()
		reversals, revErr = a.Entries.FindBySource(ctx, ledger.SourceRentalAccrualReversal, union)
	}()
	wg.Wait()
	if accErr != nil {
		return nil, fmt.Errorf("bulk accrual load: %w", accErr)
	}
	if revErr != nil {
		return nil, fmt.Errorf("bulk reversal load: %w", revErr)
	}
	report.AccrualsLoaded = len(accruals)
	report.ReversalsLoaded = len(reversals)

	reversedRefs := ReversedRefSet(reversals)

	renewalCandidates, err := a.Tenancies.FindByPersons(ctx, personIDs)
	if err != nil {
		return nil, fmt.Errorf("preload renewal candidates: %w", err)
	}
	candidatesByPerson := groupTenancies(renewalCandidates)

	// Annotate once, then index by every identifier each accrual carries.
	matcher := &Matcher{Log: a.Log}
	annotated := matcher.Annotate(accruals)
	index := indexAccruals(annotated)

	for _, t := range tenancies {
		if t.EndDate == nil {
			continue
		}
		end := *t.EndDate

		tenAccruals := collectAccruals(index, idsByTenancy[t.ID])
		if len(tenAccruals) == 0 {
			continue
		}

		renewal := selectRenewal(candidatesByPerson[t.PersonID], t, end)
		cls := ClassifyAccruals(t, end, tenAccruals, renewal, reversedRefs)

		var offending []OffendingAccrual
		for _, inc := range cls.Incorrect {
			if inc.Period.FirstDay().After(target.LastDay()) {
				continue // beyond the target month; not yet in scope
			}
			offending = append(offending, OffendingAccrual{
				EntryID:         inc.Entry.ID,
				Period:          inc.Period,
				Kind:            inc.Entry.Meta.AccrualKind,
				PostedAfterEdit: t.EndDateEdited() && inc.Entry.CreatedAt.After(t.UpdatedAt),
			})
		}
		if len(offending) == 0 {
			continue
		}

		flagged := FlaggedTenancy{
			TenancyID:     t.ID,
			PersonID:      t.PersonID,
			Status:        t.Status,
			EndDate:       end,
			EndDateEdited: t.EndDateEdited(),
			Accruals:      offending,
		}
		if renewal != nil {
			flagged.RenewalID = renewal.ID
		}
		report.Flagged = append(report.Flagged, flagged)

		if a.Log != nil && len(report.Flagged) <= maxVerboseFlagged {
			a.Log.Info("tenancy has unreversed incorrect accruals",
				zap.String("tenancy_id", t.ID),
				zap.String("end_date", end.Format("2006-01-02")),
				zap.Int("offending", len(offending)),
				zap.Bool("end_date_edited", flagged.EndDateEdited))
		}
	}

	if a.Log != nil {
		a.Log.Info("bulk audit complete",
			zap.String("target", target.String()),
			zap.Int("tenancies", report.ScannedTenancies),
			zap.Int("accruals", report.AccrualsLoaded),
			zap.Int("reversals", report.ReversalsLoaded),
			zap.Int("flagged", len(report.Flagged)))
	}
	return report, nil
}

// =============================================================================
// IN-MEMORY INDEXES
// =============================================================================

func uniquePersonIDs(tenancies []housing.Tenancy) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, t := range tenancies {
		if t.PersonID != "" && !seen[t.PersonID] {
			seen[t.PersonID] = true
			ids = append(ids, t.PersonID)
		}
	}
	return ids
}

func groupDebtors(debtors []housing.Debtor) map[string][]housing.Debtor {
	m := make(map[string][]housing.Debtor)
	for _, d := range debtors {
		m[d.PersonID] = append(m[d.PersonID], d)
	}
	return m
}

func groupTenancies(tenancies []housing.Tenancy) map[string][]housing.Tenancy {
	m := make(map[string][]housing.Tenancy)
	for _, t := range tenancies {
		if t.PersonID != "" {
			m[t.PersonID] = append(m[t.PersonID], t)
		}
	}
	return m
}

// indexAccruals maps every identifier an accrual carries to the accrual,
// so per-tenancy collection is a set lookup instead of a rescan.
func indexAccruals(accruals []MatchedAccrual) map[string][]MatchedAccrual {
	index := make(map[string][]MatchedAccrual)
	add := func(id string, a MatchedAccrual) {
		if id != "" {
			index[id] = append(index[id], a)
		}
	}
	for _, a := range accruals {
		e := a.Entry
		add(e.TransactionID, a)
		add(e.Meta.TenancyID, a)
		add(e.Meta.PersonID, a)
		add(e.Meta.DebtorID, a)
		add(e.Meta.ApplicationRef, a)
		add(e.Meta.StudentRef, a)
		for _, l := range e.Lines {
			add(l.AccountCode, a)
		}
	}
	return index
}

func collectAccruals(index map[string][]MatchedAccrual, ids IdentifierSet) []MatchedAccrual {
	var out []MatchedAccrual
	seen := make(map[string]bool)
	for _, id := range ids {
		for _, a := range index[id] {
			if !seen[a.Entry.ID] {
				seen[a.Entry.ID] = true
				out = append(out, a)
			}
		}
	}
	return out
}

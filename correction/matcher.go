/*
matcher.go - Accrual Matcher

PURPOSE:
  Retrieves every rental_accrual entry that could belong to a tenancy and
  annotates each with its resolved accrual period. Read-only.

THREE-TIER WIDENING:
  Real data showed accruals tagged inconsistently across a multi-year
  migration history, so matching widens progressively. Each tier is
  strictly more expensive and only runs if the previous one came up empty:

    1. identifier search across all four correlation positions
    2. pure account-code search over the same identifier set
       (entries whose correlation fields were never populated)
    3. person-wide sweep: every tenancy and debtor ever linked to the
       person, full cross-product of possible account codes, one search

  Entries with unresolvable periods are dropped with a diagnostic and
  never crash the scan.

SEE ALSO:
  - identity.go: the identifier set queried here
  - ledger/period.go: the ordered month/year parsing strategy
*/
package correction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// MatchedAccrual is an accrual entry with its resolved month/year.
type MatchedAccrual struct {
	Entry  ledger.Entry
	Period ledger.AccrualPeriod
}

// Matcher finds a tenancy's accruals across all historical tagging schemes.
type Matcher struct {
	Entries   ledger.EntryStore
	Tenancies housing.TenancyStore
	Debtors   housing.DebtorStore
	Log       *zap.Logger
}

// FindAccruals runs the three-tier search for the given identifier set and
// returns the deduplicated, period-annotated accrual list.
func (m *Matcher) FindAccruals(ctx context.Context, t housing.Tenancy, ids IdentifierSet) ([]MatchedAccrual, error) {
	entries, err := m.Entries.FindBySource(ctx, ledger.SourceRentalAccrual, ids)
	if err != nil {
		return nil, fmt.Errorf("accrual search by identifiers: %w", err)
	}

	if len(entries) == 0 {
		entries, err = m.Entries.FindByAccountCodes(ctx, ledger.SourceRentalAccrual, ids)
		if err != nil {
			return nil, fmt.Errorf("accrual search by account codes: %w", err)
		}
	}

	if len(entries) == 0 && t.PersonID != "" {
		codes, err := m.personWideCodes(ctx, t.PersonID)
		if err != nil {
			return nil, err
		}
		entries, err = m.Entries.FindByAccountCodes(ctx, ledger.SourceRentalAccrual, codes)
		if err != nil {
			return nil, fmt.Errorf("person-wide accrual search: %w", err)
		}
	}

	return m.Annotate(entries), nil
}

// personWideCodes builds the cross-product of account codes from every
// tenancy and debtor ever associated with a person.
func (m *Matcher) personWideCodes(ctx context.Context, personID string) ([]string, error) {
	tenancies, err := m.Tenancies.FindByPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("tenancies for person %s: %w", personID, err)
	}
	debtors, err := m.Debtors.FindByPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("debtors for person %s: %w", personID, err)
	}

	var codes []string
	seen := make(map[string]bool)
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}

	add(personID)
	add(ledger.ReceivableCode(personID))
	for _, ten := range tenancies {
		add(ten.ID)
		add(ledger.ReceivableCode(ten.ID))
	}
	for _, d := range debtors {
		add(d.ID)
		add(ledger.ReceivableCode(d.ID))
		add(d.AccountCode)
	}
	return codes, nil
}

// Annotate resolves periods, drops malformed or non-posted entries, and
// deduplicates by entry id.
func (m *Matcher) Annotate(entries []ledger.Entry) []MatchedAccrual {
	var out []MatchedAccrual
	seen := make(map[string]bool)

	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true

		if e.Status != ledger.StatusPosted {
			continue
		}
		// Reversal entries are never accrual candidates, whatever tagged them.
		if e.Source != ledger.SourceRentalAccrual {
			continue
		}

		p, err := ledger.ResolvePeriod(e)
		if err != nil {
			if m.Log != nil {
				m.Log.Warn("dropping accrual with unresolvable period",
					zap.String("entry_id", e.ID),
					zap.Error(err))
			}
			continue
		}
		out = append(out, MatchedAccrual{Entry: e, Period: p})
	}
	return out
}

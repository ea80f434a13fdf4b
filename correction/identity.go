/*
identity.go - Identity Resolver

PURPOSE:
  The same economic entity (a tenant's obligation) is referenced by up to
  six identifier schemes across historical data: tenancy id, person id,
  debtor id, the "1100-"-prefixed account-code form of each, and the
  debtor's assigned canonical code. ResolveIdentifiers computes the
  exhaustive candidate set for one tenancy so matching can query by
  set-membership instead of assuming a single foreign key.

LIFECYCLE:
  Computed fresh on every correction/audit invocation and never cached;
  canonical account codes can change between runs (a provisional code is
  replaced once a debtor's permanent code is assigned).
*/
package correction

import (
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// IdentifierSet is an ordered, deduplicated list of every string that could
// tag a tenancy's accruals.
type IdentifierSet []string

// Contains reports whether the set holds the identifier.
func (s IdentifierSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// ResolveIdentifiers builds the identifier set for a tenancy plus its
// linked debtors, if any. It never fails; absent links simply shrink the
// set. Order is most-specific first: tenancy, person, debtor, canonical.
func ResolveIdentifiers(t housing.Tenancy, debtors []housing.Debtor) IdentifierSet {
	var set IdentifierSet
	seen := make(map[string]bool)

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		set = append(set, id)
	}

	add(t.ID)
	add(ledger.ReceivableCode(t.ID))

	if t.PersonID != "" {
		add(t.PersonID)
		add(ledger.ReceivableCode(t.PersonID))
	}

	for _, d := range debtors {
		add(d.ID)
		add(ledger.ReceivableCode(d.ID))
		// Assigned canonical code, verbatim, when it differs from the
		// synthesized prefix form.
		add(d.AccountCode)
	}

	return set
}

// CanonicalAccountCode returns the currently-authoritative receivable code
// for a tenancy: the debtor's assigned code when present, otherwise the
// synthesized tenancy form.
func CanonicalAccountCode(t housing.Tenancy, debtors []housing.Debtor) string {
	for _, d := range debtors {
		if d.AccountCode != "" {
			return d.AccountCode
		}
	}
	if len(debtors) > 0 {
		return ledger.ReceivableCode(debtors[0].ID)
	}
	return ledger.ReceivableCode(t.ID)
}

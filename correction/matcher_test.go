package correction_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
	"github.com/domus/housing-ledger/store/memory"
)

func newTestMatcher(store *memory.Store) *correction.Matcher {
	bundle := store.Bundle()
	return &correction.Matcher{
		Entries:   bundle.Entries,
		Tenancies: bundle.Tenancies,
		Debtors:   bundle.Debtors,
	}
}

func findFor(t *testing.T, store *memory.Store, ten housing.Tenancy) []correction.MatchedAccrual {
	t.Helper()
	debtors, err := store.FindDebtorsByPerson(context.Background(), ten.PersonID)
	require.NoError(t, err)
	ids := correction.ResolveIdentifiers(ten, debtors)
	out, err := newTestMatcher(store).FindAccruals(context.Background(), ten, ids)
	require.NoError(t, err)
	return out
}

func TestMatcher_TierOne_IdentifierPositions(t *testing.T) {
	// GIVEN: Four accruals, each tagged through a different correlation
	//        position (correlation id, primary meta, legacy alias, line code)
	// WHEN:  The matcher runs
	// THEN:  All four are found in a single identifier search

	store := memory.New()
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), nil)

	byTxID := monthlyAccrual("", "", 2025, time.January)
	byTxID.TransactionID = ten.ID
	byTxID.Lines[0].AccountCode = "ACC-X"

	byMeta := monthlyAccrual("", "", 2025, time.February)
	byMeta.TransactionID = uuid.NewString()
	byMeta.Meta.PersonID = ten.PersonID
	byMeta.Lines[0].AccountCode = "ACC-X"

	byAlias := monthlyAccrual("", "", 2025, time.March)
	byAlias.TransactionID = uuid.NewString()
	byAlias.Meta.StudentRef = ten.PersonID
	byAlias.Lines[0].AccountCode = "ACC-X"

	byCode := monthlyAccrual("", "", 2025, time.April)
	byCode.TransactionID = uuid.NewString()
	byCode.Lines[0].AccountCode = ledger.ReceivableCode(ten.ID)

	seedAccruals(t, store, byTxID, byMeta, byAlias, byCode)

	matched := findFor(t, store, ten)
	assert.Len(t, matched, 4)
}

func TestMatcher_DebtorAssignedCode_Matched(t *testing.T) {
	// GIVEN: An accrual carrying no correlation metadata at all, only a
	//        receivable line against the debtor's assigned canonical code
	// WHEN:  The matcher runs
	// THEN:  The entry is found through the account-code position

	store := memory.New()
	ten := seedTenancy(store, "ten-1", "per-1", "deb-1", "", date(2025, time.January, 1), nil)
	store.PutDebtor(housing.Debtor{ID: "deb-1", PersonID: "per-1", AccountCode: "DR-777"})

	bare := monthlyAccrual("", "", 2025, time.May)
	bare.TransactionID = uuid.NewString()
	bare.Lines[0].AccountCode = "DR-777"
	seedAccruals(t, store, bare)

	matched := findFor(t, store, ten)
	require.Len(t, matched, 1)
	assert.Equal(t, bare.ID, matched[0].Entry.ID)
}

func TestMatcher_TierThree_PersonWideSweep(t *testing.T) {
	// GIVEN: An accrual tagged only with the account code of an EARLIER
	//        tenancy of the same person
	// WHEN:  The direct tiers find nothing for the current tenancy
	// THEN:  The person-wide sweep finds it through the sibling tenancy

	store := memory.New()
	seedTenancy(store, "ten-old", "per-1", "", "", date(2024, time.January, 1), nil)
	current := seedTenancy(store, "ten-new", "per-1", "", "", date(2025, time.January, 1), nil)

	orphan := monthlyAccrual("", "", 2025, time.February)
	orphan.TransactionID = uuid.NewString()
	orphan.Lines[0].AccountCode = ledger.ReceivableCode("ten-old")
	seedAccruals(t, store, orphan)

	// The current tenancy's own identifiers do not include ten-old forms.
	ids := correction.ResolveIdentifiers(current, nil)
	assert.False(t, ids.Contains("1100-ten-old"))

	matched := findFor(t, store, current)
	require.Len(t, matched, 1)
	assert.Equal(t, orphan.ID, matched[0].Entry.ID)
}

func TestMatcher_MalformedPeriod_DroppedNotFatal(t *testing.T) {
	// GIVEN: One healthy accrual and one with an unresolvable period
	// WHEN:  The matcher annotates
	// THEN:  The malformed entry is dropped; the scan continues

	store := memory.New()
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), nil)

	bad := monthlyAccrual(ten.ID, ten.PersonID, 2025, time.March)
	bad.Meta.AccrualMonth = 13
	good := monthlyAccrual(ten.ID, ten.PersonID, 2025, time.April)
	seedAccruals(t, store, bad, good)

	matched := findFor(t, store, ten)
	require.Len(t, matched, 1)
	assert.Equal(t, good.ID, matched[0].Entry.ID)
}

func TestMatcher_DeduplicatesAcrossIdentifiers(t *testing.T) {
	// GIVEN: One accrual tagged with the tenancy id in several positions
	// WHEN:  The matcher runs
	// THEN:  The entry appears once

	store := memory.New()
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), nil)

	multi := monthlyAccrual(ten.ID, ten.PersonID, 2025, time.March)
	multi.Meta.ApplicationRef = ten.ID
	multi.Lines[0].AccountCode = ledger.ReceivableCode(ten.ID)
	seedAccruals(t, store, multi)

	matched := findFor(t, store, ten)
	assert.Len(t, matched, 1)
}

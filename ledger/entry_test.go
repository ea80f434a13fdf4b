package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/domus/housing-ledger/ledger"
)

func twoLineEntry(debit, credit int64) ledger.Entry {
	return ledger.Entry{
		ID: "e-1",
		Lines: []ledger.Line{
			{AccountCode: "1100-ten-1", Debit: decimal.NewFromInt(debit), Credit: decimal.Zero},
			{AccountCode: ledger.IncomeAccountCode, Debit: decimal.Zero, Credit: decimal.NewFromInt(credit)},
		},
	}
}

func TestEntry_Balanced(t *testing.T) {
	assert.True(t, twoLineEntry(500, 500).Balanced())
	assert.False(t, twoLineEntry(500, 499).Balanced())
}

func TestEntry_MatchesIdentifier_AllPositions(t *testing.T) {
	// GIVEN: An entry tagged differently in each correlation position
	// THEN:  Each position matches; an empty identifier never does

	e := ledger.Entry{
		TransactionID: "txid",
		Meta: ledger.Meta{
			TenancyID:      "ten-1",
			PersonID:       "per-1",
			DebtorID:       "deb-1",
			ApplicationRef: "app-legacy",
			StudentRef:     "stu-legacy",
		},
		Lines: []ledger.Line{{AccountCode: "1100-ten-1"}},
	}

	for _, id := range []string{"txid", "ten-1", "per-1", "deb-1", "app-legacy", "stu-legacy", "1100-ten-1"} {
		assert.True(t, e.MatchesIdentifier(id), id)
	}
	assert.False(t, e.MatchesIdentifier("other"))
	assert.False(t, e.MatchesIdentifier(""), "empty identifier must never match")
}

func TestEntry_MatchesAnyIdentifier(t *testing.T) {
	e := ledger.Entry{Meta: ledger.Meta{TenancyID: "ten-1"}}

	assert.True(t, e.MatchesAnyIdentifier([]string{"nope", "ten-1"}))
	assert.False(t, e.MatchesAnyIdentifier([]string{"nope"}))
	assert.False(t, e.MatchesAnyIdentifier(nil))
}

func TestEntry_ReversalRefs(t *testing.T) {
	// Entry id only: accruals of one tenancy share their correlation id, so
	// including it would let one sibling's reversal shadow the others.
	e := ledger.Entry{ID: "e-1", TransactionID: "ten-1"}
	assert.Equal(t, []string{"e-1"}, e.ReversalRefs())
}

func TestEntry_ReferencesOriginal(t *testing.T) {
	rev := ledger.Entry{Meta: ledger.Meta{
		ReversedEntryID:       "orig-1",
		ReversedTransactionID: "tx-1",
		Reference:             "orig-1",
	}}

	assert.True(t, rev.ReferencesOriginal([]string{"orig-1"}))
	assert.True(t, rev.ReferencesOriginal([]string{"tx-1"}))
	assert.False(t, rev.ReferencesOriginal([]string{"other"}))
	assert.False(t, rev.ReferencesOriginal([]string{""}), "empty refs are ignored")
}

func TestLine_IsReceivable(t *testing.T) {
	// Prefix form and explicit account type both qualify; an assigned
	// canonical code outside the family needs the type.
	assert.True(t, ledger.Line{AccountCode: "1100-ten-1"}.IsReceivable())
	assert.True(t, ledger.Line{AccountCode: "DR-999", AccountType: ledger.AccountTypeReceivable}.IsReceivable())
	assert.False(t, ledger.Line{AccountCode: "4000", AccountType: "income"}.IsReceivable())
}

func TestReceivableCode(t *testing.T) {
	assert.Equal(t, "1100-ten-1", ledger.ReceivableCode("ten-1"))
	assert.True(t, ledger.IsReceivableCode("1100-anything"))
	assert.False(t, ledger.IsReceivableCode("4000"))
}

package correction_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
	"github.com/domus/housing-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*correction.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := correction.NewService(store.Bundle(), store, store.Rooms(), nil)
	svc.Clock = func() time.Time { return testNow }
	return svc, store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedTenancy(store *memory.Store, id, personID, debtorID, roomID string, start time.Time, end *time.Time) housing.Tenancy {
	ten := housing.Tenancy{
		ID:          id,
		PersonID:    personID,
		DebtorID:    debtorID,
		RoomID:      roomID,
		TenantName:  "Alex Tenant",
		StartDate:   start,
		EndDate:     end,
		Status:      housing.TenancyApproved,
		MonthlyRent: decimal.NewFromInt(500),
		CreatedAt:   start.AddDate(0, -1, 0),
		UpdatedAt:   start.AddDate(0, -1, 0),
	}
	store.PutTenancy(ten)
	return ten
}

// monthlyAccrual builds a posted full-month accrual tagged through the
// primary metadata fields.
func monthlyAccrual(tenancyID, personID string, year int, month time.Month) ledger.Entry {
	return accrualEntry(tenancyID, personID, year, month, ledger.KindMonthly,
		ledger.ReceivableCode(tenancyID))
}

func accrualEntry(tenancyID, personID string, year int, month time.Month, kind ledger.AccrualKind, code string) ledger.Entry {
	amount := decimal.NewFromInt(500)
	return ledger.Entry{
		ID:            uuid.NewString(),
		TransactionID: tenancyID,
		Date:          date(year, month, 1),
		Description:   "Monthly rent accrual",
		Source:        ledger.SourceRentalAccrual,
		Status:        ledger.StatusPosted,
		Lines: []ledger.Line{
			{AccountCode: code, AccountType: ledger.AccountTypeReceivable, Debit: amount, Credit: decimal.Zero},
			{AccountCode: ledger.IncomeAccountCode, AccountType: "income", Debit: decimal.Zero, Credit: amount},
		},
		Meta: ledger.Meta{
			AccrualMonth: int(month),
			AccrualYear:  year,
			AccrualKind:  kind,
			TenancyID:    tenancyID,
			PersonID:     personID,
		},
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      date(year, month, 1),
	}
}

func seedAccruals(t *testing.T, store *memory.Store, entries ...ledger.Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, store.Append(context.Background(), e))
	}
}

func correctionReq(tenancyID string, end time.Time) correction.CorrectionRequest {
	return correction.CorrectionRequest{
		TenancyID: tenancyID,
		EndDate:   end,
		Reason:    "tenant moved out early",
		Actor:     "admin-1",
	}
}

// =============================================================================
// CORE CORRECTION FLOW
// =============================================================================

func TestCorrectTenancy_ReversesAccrualsAfterEndDate(t *testing.T) {
	// GIVEN: A tenancy Jan-Jun with monthly accruals posted for all six
	//        months plus a lease-start entry
	// WHEN:  The end date is corrected to March 15
	// THEN:  Exactly April, May and June are reversed; the lease-start and
	//        Jan-Mar accruals are left alone

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "deb-1", "room-1", date(2025, time.January, 1), &end)
	store.PutDebtor(housing.Debtor{ID: "deb-1", PersonID: "per-1", Status: housing.DebtorActive})
	store.PutRoom(housing.Room{ID: "room-1", Capacity: 2, Occupied: 2, Status: housing.RoomOccupied})

	var monthlies []ledger.Entry
	for m := time.January; m <= time.June; m++ {
		monthlies = append(monthlies, monthlyAccrual(ten.ID, ten.PersonID, 2025, m))
	}
	leaseStart := accrualEntry(ten.ID, ten.PersonID, 2025, time.January, ledger.KindLeaseStart,
		ledger.ReceivableCode(ten.ID))
	seedAccruals(t, store, leaseStart)
	seedAccruals(t, store, monthlies...)

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	assert.Equal(t, correction.OutcomeCorrected, res.Outcome)
	require.Len(t, res.Reversed, 3, "only April, May, June should be reversed")

	reversedPeriods := make(map[string]bool)
	for _, rv := range res.Reversed {
		reversedPeriods[rv.Period.String()] = true
	}
	assert.True(t, reversedPeriods["2025-04"])
	assert.True(t, reversedPeriods["2025-05"])
	assert.True(t, reversedPeriods["2025-06"])
}

func TestCorrectTenancy_FirstReversalDoesNotShadowSiblings(t *testing.T) {
	// GIVEN: April, May and June accruals all carrying the tenancy id as
	//        their shared correlation id
	// WHEN:  One correction run processes them
	// THEN:  All three are reversed; the first reversal landing must not
	//        make the later siblings look already reversed

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	for m := time.April; m <= time.June; m++ {
		seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, m))
	}

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	require.Len(t, res.Reversed, 3)
	for _, sk := range res.Skipped {
		assert.NotEqual(t, correction.SkipAlreadyReversed, sk.Reason,
			"accrual %s wrongly treated as already reversed", sk.Accrual.Period)
	}
}

func TestCorrectTenancy_ReversalSwapsDebitsAndCredits(t *testing.T) {
	// GIVEN: One incorrect accrual debiting the receivable account
	// WHEN:  The correction runs
	// THEN:  The reversal carries the same lines with debit and credit
	//        swapped, and the entry balances

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.May, 31)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, time.May))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 31)))
	require.NoError(t, err)
	require.Len(t, res.Reversed, 1)

	rev, err := store.Get(ctx, res.Reversed[0].ReversalEntryID)
	require.NoError(t, err)

	assert.Equal(t, ledger.SourceRentalAccrualReversal, rev.Source)
	assert.True(t, rev.Balanced(), "reversal must balance")
	require.Len(t, rev.Lines, 2)
	// Receivable line was a debit on the original, must be a credit here.
	assert.True(t, rev.Lines[0].Credit.Equal(decimal.NewFromInt(500)))
	assert.True(t, rev.Lines[0].Debit.IsZero())
	assert.True(t, rev.Lines[1].Debit.Equal(decimal.NewFromInt(500)))
}

func TestCorrectTenancy_SideEffects_ExpireAndRelease(t *testing.T) {
	// GIVEN: A corrected end date in the past, a linked debtor and a room
	// WHEN:  The correction runs
	// THEN:  The tenancy and debtor are expired and the room's occupancy is
	//        decremented with its status recomputed

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "deb-1", "room-1", date(2025, time.January, 1), &end)
	store.PutDebtor(housing.Debtor{ID: "deb-1", PersonID: "per-1", Status: housing.DebtorActive})
	store.PutRoom(housing.Room{ID: "room-1", Capacity: 2, Occupied: 2, Status: housing.RoomOccupied})
	seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, time.June))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	assert.True(t, res.SideEffects.EndDateUpdated)
	assert.True(t, res.SideEffects.TenancyExpired)
	assert.True(t, res.SideEffects.DebtorExpired)
	assert.True(t, res.SideEffects.RoomReleased)
	assert.Empty(t, res.SideEffects.Failures)

	got, err := store.GetTenancy(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, housing.TenancyExpired, got.Status)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(date(2025, time.March, 15)))

	deb, err := store.GetDebtor(ctx, "deb-1")
	require.NoError(t, err)
	assert.Equal(t, housing.DebtorExpired, deb.Status)

	room, err := store.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, room.Occupied)
	assert.Equal(t, housing.RoomReserved, room.Status)
}

func TestCorrectTenancy_FutureEndDate_NoExpiry(t *testing.T) {
	// GIVEN: A corrected end date still in the future
	// WHEN:  The correction runs
	// THEN:  The end date is updated and later accruals reversed, but the
	//        tenancy stays approved and the room is untouched

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.December, 31)
	ten := seedTenancy(store, "ten-1", "per-1", "", "room-1", date(2025, time.January, 1), &end)
	store.PutRoom(housing.Room{ID: "room-1", Capacity: 1, Occupied: 1, Status: housing.RoomOccupied})
	seedAccruals(t, store,
		monthlyAccrual(ten.ID, ten.PersonID, 2025, time.November),
		monthlyAccrual(ten.ID, ten.PersonID, 2025, time.December))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.October, 31)))
	require.NoError(t, err)

	assert.Equal(t, correction.OutcomeCorrected, res.Outcome)
	assert.Len(t, res.Reversed, 2)
	assert.True(t, res.SideEffects.EndDateUpdated)
	assert.False(t, res.SideEffects.TenancyExpired)
	assert.False(t, res.SideEffects.RoomReleased)

	got, _ := store.GetTenancy(ctx, ten.ID)
	assert.Equal(t, housing.TenancyApproved, got.Status)

	room, _ := store.GetRoom(ctx, "room-1")
	assert.Equal(t, 1, room.Occupied)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestCorrectTenancy_SecondRun_NothingToCorrect(t *testing.T) {
	// GIVEN: A correction already applied
	// WHEN:  The identical request is submitted again
	// THEN:  No new reversals; every accrual exists with exactly one reversal

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	for m := time.April; m <= time.June; m++ {
		seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, m))
	}

	first, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)
	require.Len(t, first.Reversed, 3)

	second, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	assert.Equal(t, correction.OutcomeNothingToCorrect, second.Outcome)
	assert.Empty(t, second.Reversed)

	// Three reversal entries total, not six.
	reversals, err := store.FindBySource(ctx, ledger.SourceRentalAccrualReversal,
		[]string{ten.ID})
	require.NoError(t, err)
	assert.Len(t, reversals, 3)
}

func TestCorrectTenancy_NeverReversesAReversal(t *testing.T) {
	// GIVEN: An applied correction whose reversal entries are in the ledger
	// WHEN:  A further, earlier correction is applied
	// THEN:  Reversal entries are never selected as candidates

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	seedAccruals(t, store,
		monthlyAccrual(ten.ID, ten.PersonID, 2025, time.May),
		monthlyAccrual(ten.ID, ten.PersonID, 2025, time.June))

	_, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.May, 31)))
	require.NoError(t, err)

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.April, 30)))
	require.NoError(t, err)

	// May becomes incorrect under the earlier end date; June is already
	// reversed and must not be double-reversed.
	require.Len(t, res.Reversed, 1)
	assert.Equal(t, "2025-05", res.Reversed[0].Period.String())

	reversals, err := store.FindBySource(ctx, ledger.SourceRentalAccrualReversal, []string{ten.ID})
	require.NoError(t, err)
	assert.Len(t, reversals, 2)
}

// =============================================================================
// RENEWAL PROTECTION
// =============================================================================

func TestCorrectTenancy_RenewalShieldsCoveredMonths(t *testing.T) {
	// GIVEN: Accruals through August, the end date corrected to May 31, and
	//        an approved renewal for the same person starting July 1
	// WHEN:  The correction runs
	// THEN:  June is reversed; July and August are skipped as covered

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.December, 31)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	renewalEnd := date(2025, time.December, 31)
	store.PutTenancy(housing.Tenancy{
		ID:        "ten-2",
		PersonID:  "per-1",
		StartDate: date(2025, time.July, 1),
		EndDate:   &renewalEnd,
		Status:    housing.TenancyApproved,
	})

	for m := time.June; m <= time.August; m++ {
		seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, m))
	}

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.May, 31)))
	require.NoError(t, err)

	assert.Equal(t, "ten-2", res.RenewalID)
	require.Len(t, res.Reversed, 1)
	assert.Equal(t, "2025-06", res.Reversed[0].Period.String())

	covered := 0
	for _, sk := range res.Skipped {
		if sk.Reason == correction.SkipCoveredByRenewal {
			covered++
		}
	}
	assert.Equal(t, 2, covered, "July and August should be renewal-covered")
}

func TestCorrectTenancy_RejectedTenancy_NotARenewal(t *testing.T) {
	// GIVEN: Another tenancy for the person that was rejected
	// WHEN:  The correction runs
	// THEN:  It shields nothing; later accruals are reversed

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.December, 31)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)
	store.PutTenancy(housing.Tenancy{
		ID:        "ten-2",
		PersonID:  "per-1",
		StartDate: date(2025, time.July, 1),
		Status:    housing.TenancyRejected,
	})
	seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, time.July))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.May, 31)))
	require.NoError(t, err)

	assert.Empty(t, res.RenewalID)
	assert.Len(t, res.Reversed, 1)
}

// =============================================================================
// LEASE-START RULE
// =============================================================================

func TestCorrectTenancy_LeaseStartSurvivesMidLeaseCorrection(t *testing.T) {
	// GIVEN: A lease-start accrual and an end date corrected after the start
	// WHEN:  The correction runs
	// THEN:  The lease-start entry is skipped as valid

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 15), &end)
	seedAccruals(t, store,
		accrualEntry(ten.ID, ten.PersonID, 2025, time.January, ledger.KindLeaseStart, ledger.ReceivableCode(ten.ID)),
		monthlyAccrual(ten.ID, ten.PersonID, 2025, time.May))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	require.Len(t, res.Reversed, 1)
	assert.Equal(t, "2025-05", res.Reversed[0].Period.String())

	foundValid := false
	for _, sk := range res.Skipped {
		if sk.Reason == correction.SkipLeaseStartValid {
			foundValid = true
		}
	}
	assert.True(t, foundValid, "lease-start should be skipped as valid")
}

func TestCorrectTenancy_CancelledBeforeStart_ReversesLeaseStart(t *testing.T) {
	// GIVEN: A lease starting Sep 1 with its lease-start accrual posted
	// WHEN:  The end date is corrected to Aug 15, before the lease began
	// THEN:  The lease-start accrual is reversed

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2026, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.September, 1), &end)
	seedAccruals(t, store,
		accrualEntry(ten.ID, ten.PersonID, 2025, time.September, ledger.KindLeaseStart, ledger.ReceivableCode(ten.ID)))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.August, 15)))
	require.NoError(t, err)

	require.Len(t, res.Reversed, 1)
	assert.Equal(t, "2025-09", res.Reversed[0].Period.String())
}

// =============================================================================
// IDENTITY AND ACCOUNT CODES
// =============================================================================

func TestCorrectTenancy_LegacyAliasFields_StillMatched(t *testing.T) {
	// GIVEN: A historical accrual tagged only through the legacy alias
	//        metadata fields
	// WHEN:  The correction runs
	// THEN:  The entry is found and reversed

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "", date(2025, time.January, 1), &end)

	legacy := monthlyAccrual("", "", 2025, time.May)
	legacy.TransactionID = uuid.NewString()
	legacy.Meta.TenancyID = ""
	legacy.Meta.PersonID = ""
	legacy.Meta.ApplicationRef = ten.ID
	legacy.Meta.StudentRef = ten.PersonID
	legacy.Lines[0].AccountCode = "ACC-OTHER"
	legacy.Lines[0].AccountType = ledger.AccountTypeReceivable
	seedAccruals(t, store, legacy)

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	require.Len(t, res.Reversed, 1)
	assert.Equal(t, legacy.ID, res.Reversed[0].OriginalEntryID)
}

func TestCorrectTenancy_StaleCode_ReversalUsesCanonicalCode(t *testing.T) {
	// GIVEN: An accrual posted against the synthesized tenancy code, while
	//        the debtor has since been assigned a canonical account code
	// WHEN:  The correction runs
	// THEN:  The reversal's receivable line posts against the canonical code

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "deb-1", "", date(2025, time.January, 1), &end)
	store.PutDebtor(housing.Debtor{
		ID: "deb-1", PersonID: "per-1", AccountCode: "DR-12345", Status: housing.DebtorActive,
	})
	seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, time.May))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)
	require.Len(t, res.Reversed, 1)

	rev, err := store.Get(ctx, res.Reversed[0].ReversalEntryID)
	require.NoError(t, err)
	assert.Equal(t, "DR-12345", rev.Lines[0].AccountCode,
		"reversal must land on the live canonical account")
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestCorrectTenancy_UnknownTenancy_FailedResult(t *testing.T) {
	// GIVEN: No such tenancy
	// WHEN:  A correction is requested
	// THEN:  A failed result comes back without a Go error

	svc, _ := newTestService(t)

	res, err := svc.CorrectTenancy(context.Background(), correctionReq("nope", testNow))
	require.NoError(t, err)

	assert.Equal(t, correction.OutcomeFailed, res.Outcome)
	assert.Equal(t, "tenancy_not_found", res.FailureReason)
}

func TestCorrectTenancy_MissingRoom_BestEffortFailureRecorded(t *testing.T) {
	// GIVEN: A tenancy referencing a room that no longer exists
	// WHEN:  The correction expires the tenancy
	// THEN:  The ledger writes commit and the room failure is only recorded

	svc, store := newTestService(t)
	ctx := context.Background()

	end := date(2025, time.June, 30)
	ten := seedTenancy(store, "ten-1", "per-1", "", "room-gone", date(2025, time.January, 1), &end)
	seedAccruals(t, store, monthlyAccrual(ten.ID, ten.PersonID, 2025, time.June))

	res, err := svc.CorrectTenancy(ctx, correctionReq(ten.ID, date(2025, time.March, 15)))
	require.NoError(t, err)

	assert.Equal(t, correction.OutcomeCorrected, res.Outcome)
	assert.Len(t, res.Reversed, 1)
	assert.False(t, res.SideEffects.RoomReleased)
	require.Len(t, res.SideEffects.Failures, 1)
	assert.Contains(t, res.SideEffects.Failures[0], "room-gone")
}

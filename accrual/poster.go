/*
poster.go - Rent accrual posting

PURPOSE:
  Posts the double-entry records that recognize rent obligations before
  cash is received:

    - lease start: the first month's obligation, prorated linearly over
      the days remaining in the start month
    - monthly: the full-month obligation for every month the tenancy
      covers, normally driven by the scheduler on the 1st

  Every entry debits the tenant's receivable account (the debtor's
  canonical code when one is assigned, else the synthesized tenancy code)
  and credits rental income. Posting is idempotent: the idempotency key is
  derived from the tenancy and period, so a re-run of a month is a no-op
  per tenancy.

SEE ALSO:
  - correction: the engine that reverses entries posted here when a lease
    ends earlier than recorded
*/
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// Poster posts rent accrual entries.
type Poster struct {
	Entries   ledger.EntryStore
	Tenancies housing.TenancyStore
	Debtors   housing.DebtorStore
	Audit     ledger.AuditLog
	Clock     func() time.Time
	Log       *zap.Logger
}

func (p *Poster) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// PostOutcome is the per-tenancy result of a posting attempt.
type PostOutcome string

const (
	PostPosted  PostOutcome = "posted"
	PostSkipped PostOutcome = "skipped" // already posted, or month not covered
	PostFailed  PostOutcome = "failed"
)

// PostResult reports one posting attempt.
type PostResult struct {
	TenancyID string
	Period    ledger.AccrualPeriod
	Outcome   PostOutcome
	EntryID   string
	Amount    decimal.Decimal
	Err       string
}

// RunResult aggregates a whole monthly run. Individual failures never
// abort the run.
type RunResult struct {
	Period  ledger.AccrualPeriod
	Posted  int
	Skipped int
	Failed  int
	Results []PostResult
}

// PostLeaseStart posts the prorated first-month accrual for a tenancy.
func (p *Poster) PostLeaseStart(ctx context.Context, tenancyID string) (*PostResult, error) {
	t, err := p.Tenancies.Get(ctx, tenancyID)
	if err != nil {
		return nil, fmt.Errorf("load tenancy %s: %w", tenancyID, err)
	}

	period := ledger.PeriodOf(t.StartDate)
	amount := prorate(t.MonthlyRent, t.StartDate)
	key := fmt.Sprintf("accrual:lease-start:%s", t.ID)
	desc := fmt.Sprintf("Lease-start rent accrual for tenancy %s (%s)", t.ID, period)

	return p.post(ctx, t, period, ledger.KindLeaseStart, amount, key, desc)
}

// PostMonthly posts the full-month accrual for one tenancy, skipping
// months the tenancy does not cover.
func (p *Poster) PostMonthly(ctx context.Context, t housing.Tenancy, period ledger.AccrualPeriod) (*PostResult, error) {
	if !covers(t, period) {
		return &PostResult{TenancyID: t.ID, Period: period, Outcome: PostSkipped}, nil
	}
	key := fmt.Sprintf("accrual:monthly:%s:%s", t.ID, period)
	desc := fmt.Sprintf("Monthly rent accrual for tenancy %s (%s)", t.ID, period)

	return p.post(ctx, t, period, ledger.KindMonthly, t.MonthlyRent, key, desc)
}

// RunMonth posts the month's accrual for every approved tenancy.
func (p *Poster) RunMonth(ctx context.Context, period ledger.AccrualPeriod) (*RunResult, error) {
	tenancies, err := p.Tenancies.ListByStatus(ctx, housing.TenancyApproved)
	if err != nil {
		return nil, fmt.Errorf("list approved tenancies: %w", err)
	}

	run := &RunResult{Period: period}
	for _, t := range tenancies {
		res, err := p.PostMonthly(ctx, t, period)
		if err != nil {
			res = &PostResult{TenancyID: t.ID, Period: period, Outcome: PostFailed, Err: err.Error()}
			if p.Log != nil {
				p.Log.Error("monthly accrual failed",
					zap.String("tenancy_id", t.ID),
					zap.String("period", period.String()),
					zap.Error(err))
			}
		}
		switch res.Outcome {
		case PostPosted:
			run.Posted++
		case PostSkipped:
			run.Skipped++
		case PostFailed:
			run.Failed++
		}
		run.Results = append(run.Results, *res)
	}

	if p.Log != nil {
		p.Log.Info("monthly accrual run complete",
			zap.String("period", period.String()),
			zap.Int("posted", run.Posted),
			zap.Int("skipped", run.Skipped),
			zap.Int("failed", run.Failed))
	}
	return run, nil
}

func (p *Poster) post(
	ctx context.Context,
	t housing.Tenancy,
	period ledger.AccrualPeriod,
	kind ledger.AccrualKind,
	amount decimal.Decimal,
	idempotencyKey, description string,
) (*PostResult, error) {
	exists, err := p.Entries.Exists(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency check for %s: %w", idempotencyKey, err)
	}
	if exists {
		return &PostResult{TenancyID: t.ID, Period: period, Outcome: PostSkipped}, nil
	}

	debtors, err := p.debtorsFor(ctx, t)
	if err != nil {
		return nil, err
	}
	code, name := receivableAccount(t, debtors)
	now := p.now()

	e := ledger.Entry{
		ID:            uuid.NewString(),
		TransactionID: t.ID, // current convention: correlation id carries the tenancy id
		Date:          period.FirstDay(),
		Description:   description,
		Source:        ledger.SourceRentalAccrual,
		Status:        ledger.StatusPosted,
		Lines: []ledger.Line{
			{
				AccountCode: code,
				AccountName: name,
				AccountType: ledger.AccountTypeReceivable,
				Debit:       amount,
				Credit:      decimal.Zero,
				Description: description,
			},
			{
				AccountCode: ledger.IncomeAccountCode,
				AccountName: "Rental income",
				AccountType: "income",
				Debit:       decimal.Zero,
				Credit:      amount,
				Description: description,
			},
		},
		Meta: ledger.Meta{
			AccrualMonth: int(period.Month),
			AccrualYear:  period.Year,
			AccrualKind:  kind,
			TenancyID:    t.ID,
			PersonID:     t.PersonID,
			DebtorID:     t.DebtorID,
		},
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}

	if err := p.Entries.Append(ctx, e); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return &PostResult{TenancyID: t.ID, Period: period, Outcome: PostSkipped}, nil
		}
		return nil, fmt.Errorf("persist accrual for tenancy %s: %w", t.ID, err)
	}

	if err := p.Audit.Append(ctx, ledger.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   "system",
		Action:    ledger.AuditAccrualPosted,
		TenancyID: t.ID,
		PersonID:  t.PersonID,
		DebtorID:  t.DebtorID,
		Payload: map[string]any{
			"entry_id": e.ID,
			"period":   period.String(),
			"kind":     string(kind),
			"amount":   amount.String(),
		},
	}); err != nil {
		return nil, fmt.Errorf("audit accrual for tenancy %s: %w", t.ID, err)
	}

	return &PostResult{
		TenancyID: t.ID,
		Period:    period,
		Outcome:   PostPosted,
		EntryID:   e.ID,
		Amount:    amount,
	}, nil
}

func (p *Poster) debtorsFor(ctx context.Context, t housing.Tenancy) ([]housing.Debtor, error) {
	if t.DebtorID != "" {
		d, err := p.Debtors.Get(ctx, t.DebtorID)
		if err == nil {
			return []housing.Debtor{d}, nil
		}
		if !errors.Is(err, housing.ErrDebtorNotFound) {
			return nil, fmt.Errorf("load debtor %s: %w", t.DebtorID, err)
		}
	}
	if t.PersonID == "" {
		return nil, nil
	}
	debtors, err := p.Debtors.FindByPerson(ctx, t.PersonID)
	if err != nil {
		return nil, fmt.Errorf("debtors for person %s: %w", t.PersonID, err)
	}
	return debtors, nil
}

func receivableAccount(t housing.Tenancy, debtors []housing.Debtor) (code, name string) {
	for _, d := range debtors {
		if d.AccountCode != "" {
			n := d.Name
			if n == "" {
				n = t.TenantName
			}
			return d.AccountCode, "Receivable - " + n
		}
	}
	name = t.TenantName
	if name == "" {
		name = "tenancy " + t.ID
	}
	return ledger.ReceivableCode(t.ID), "Receivable - " + name
}

// prorate computes the linear daily proration of the monthly rent over the
// days remaining in the start month, inclusive of the start day. Rounded
// to the cent.
func prorate(monthlyRent decimal.Decimal, start time.Time) decimal.Decimal {
	period := ledger.PeriodOf(start)
	daysInMonth := period.DaysInMonth()
	remaining := daysInMonth - start.Day() + 1

	return monthlyRent.
		Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(daysInMonth))).
		Round(2)
}

// covers reports whether the tenancy's [start, end] range includes any day
// of the period.
func covers(t housing.Tenancy, period ledger.AccrualPeriod) bool {
	if t.StartDate.After(period.LastDay()) {
		return false
	}
	return t.EndDate == nil || !t.EndDate.Before(period.FirstDay())
}

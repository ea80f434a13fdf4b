/*
renewal.go - Renewal Overlap Detector

PURPOSE:
  An accrual dated after a tenancy's corrected end date is not necessarily
  wrong: the person may have renewed, and the renewal is a separate tenancy
  record that legitimately covers later months. Before reversing anything
  the engine checks whether a renewal covers the accrual month.

COVERAGE RULE:
  A candidate renewal is any OTHER tenancy for the same person, approved or
  pending, that either starts on/after the month following expiry or starts
  before expiry with its own end date extending past it. Its [start, end]
  interval is authoritative: a month is covered iff the first day of that
  month falls within the interval.

LEASE-START EXEMPTION:
  A lease-start accrual for the expired tenancy is reversed if and only if
  the corrected end date precedes the tenancy's own recorded start date -
  the lease never effectively began. A monthly accrual is never exempted
  this way. See classify.go.
*/
package correction

import (
	"context"
	"fmt"
	"time"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// renewalCandidate reports whether other qualifies as a renewal of t with
// respect to the corrected end date.
func renewalCandidate(other, t housing.Tenancy, correctedEnd time.Time) bool {
	if other.ID == t.ID || other.PersonID == "" || other.PersonID != t.PersonID {
		return false
	}
	if other.Status != housing.TenancyApproved && other.Status != housing.TenancyPending {
		return false
	}

	followingMonth := ledger.PeriodOf(correctedEnd).Next().FirstDay()

	// Starts on/after the month following expiry.
	if !other.StartDate.Before(followingMonth) {
		return true
	}
	// Starts before expiry but extends past it.
	if other.StartDate.Before(correctedEnd) && (other.EndDate == nil || other.EndDate.After(correctedEnd)) {
		return true
	}
	return false
}

// selectRenewal picks the earliest-starting renewal among pre-loaded
// candidates. Pure; shared by the single-tenancy path and the bulk auditor.
func selectRenewal(candidates []housing.Tenancy, t housing.Tenancy, correctedEnd time.Time) *housing.Tenancy {
	var best *housing.Tenancy
	for i := range candidates {
		c := candidates[i]
		if !renewalCandidate(c, t, correctedEnd) {
			continue
		}
		if best == nil || c.StartDate.Before(best.StartDate) {
			best = &candidates[i]
		}
	}
	return best
}

// RenewalCovers reports whether the renewal's interval contains the first
// day of the accrual month. A nil end date is treated as open-ended.
func RenewalCovers(renewal *housing.Tenancy, p ledger.AccrualPeriod) bool {
	if renewal == nil {
		return false
	}
	first := p.FirstDay()
	if first.Before(renewal.StartDate) {
		return false
	}
	return renewal.EndDate == nil || !first.After(*renewal.EndDate)
}

// RenewalDetector resolves renewals through the tenancy store for the
// single-tenancy correction path.
type RenewalDetector struct {
	Tenancies housing.TenancyStore
}

// RenewalFor returns the earliest renewal of t relative to the corrected
// end date, or nil when the person has none on record.
func (d *RenewalDetector) RenewalFor(ctx context.Context, t housing.Tenancy, correctedEnd time.Time) (*housing.Tenancy, error) {
	if t.PersonID == "" {
		return nil, nil
	}
	candidates, err := d.Tenancies.FindByPerson(ctx, t.PersonID)
	if err != nil {
		return nil, fmt.Errorf("renewal candidates for person %s: %w", t.PersonID, err)
	}
	return selectRenewal(candidates, t, correctedEnd), nil
}

/*
period.go - Accrual period resolution

PURPOSE:
  AccrualPeriod is the strongly-typed month/year value every accrual is
  classified under. Historical entries recorded the period three different
  ways, so resolution applies an explicit, ordered parsing strategy:

    1. numeric AccrualMonth/AccrualYear metadata fields
    2. legacy "YYYY-MM" AccrualPeriod string metadata field
    3. fallback to the posting date's calendar month/year

  First match wins. An entry whose resolved month is outside 1-12 or whose
  year is missing is rejected with MalformedPeriodError; callers drop the
  entry with a diagnostic and continue.

SEE ALSO:
  - entry.go: the Meta fields consumed here
*/
package ledger

import (
	"fmt"
	"time"
)

// legacyPeriodLayout is the fixed pattern of the historical string field.
const legacyPeriodLayout = "2006-01"

// AccrualPeriod identifies the calendar month an accrual belongs to.
type AccrualPeriod struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) AccrualPeriod {
	return AccrualPeriod{Year: t.Year(), Month: t.Month()}
}

// FirstDay returns midnight UTC on the first day of the month.
func (p AccrualPeriod) FirstDay() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight UTC on the last day of the month.
func (p AccrualPeriod) LastDay() time.Time {
	return p.FirstDay().AddDate(0, 1, -1)
}

// DaysInMonth returns the number of calendar days in the month.
func (p AccrualPeriod) DaysInMonth() int {
	return p.LastDay().Day()
}

// Next returns the following month.
func (p AccrualPeriod) Next() AccrualPeriod {
	return PeriodOf(p.FirstDay().AddDate(0, 1, 0))
}

// Contains reports whether t falls inside the month.
func (p AccrualPeriod) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

// After reports whether the period is strictly later than t's month.
func (p AccrualPeriod) After(t time.Time) bool {
	return p.FirstDay().After(t)
}

func (p AccrualPeriod) IsZero() bool { return p.Year == 0 }

func (p AccrualPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p AccrualPeriod) valid() bool {
	return p.Year > 0 && p.Month >= time.January && p.Month <= time.December
}

// MalformedPeriodError reports an entry whose accrual period cannot be
// resolved. Such entries are excluded from matching and audit, never fatal.
type MalformedPeriodError struct {
	EntryID string
	Detail  string
}

func (e *MalformedPeriodError) Error() string {
	return fmt.Sprintf("entry %s: malformed accrual period: %s", e.EntryID, e.Detail)
}

func (e *MalformedPeriodError) Unwrap() error { return ErrMalformedPeriod }

// ResolvePeriod applies the ordered parsing strategy to an entry.
func ResolvePeriod(e Entry) (AccrualPeriod, error) {
	// 1. Explicit numeric fields. If either is present both must be sane;
	//    falling through to a legacy field would silently reclassify the
	//    entry under a different month.
	if e.Meta.AccrualMonth != 0 || e.Meta.AccrualYear != 0 {
		p := AccrualPeriod{Year: e.Meta.AccrualYear, Month: time.Month(e.Meta.AccrualMonth)}
		if !p.valid() {
			return AccrualPeriod{}, &MalformedPeriodError{
				EntryID: e.ID,
				Detail:  fmt.Sprintf("month=%d year=%d", e.Meta.AccrualMonth, e.Meta.AccrualYear),
			}
		}
		return p, nil
	}

	// 2. Legacy "YYYY-MM" string field.
	if e.Meta.AccrualPeriod != "" {
		t, err := time.Parse(legacyPeriodLayout, e.Meta.AccrualPeriod)
		if err != nil {
			return AccrualPeriod{}, &MalformedPeriodError{
				EntryID: e.ID,
				Detail:  fmt.Sprintf("period string %q", e.Meta.AccrualPeriod),
			}
		}
		return PeriodOf(t), nil
	}

	// 3. Posting date fallback.
	if e.Date.IsZero() {
		return AccrualPeriod{}, &MalformedPeriodError{EntryID: e.ID, Detail: "no period fields and no posting date"}
	}
	return PeriodOf(e.Date), nil
}

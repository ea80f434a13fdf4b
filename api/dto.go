/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/domus/housing-ledger/accrual"
	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CorrectionRequestDTO is the body of POST /api/tenancies/{id}/corrections.
type CorrectionRequestDTO struct {
	EndDate string `json:"end_date"` // YYYY-MM-DD
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

// RunAccrualsRequest is the body of POST /api/accruals/run. Zero values
// mean "the current month".
type RunAccrualsRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ReversedAccrualDTO is one reversal persisted by a correction.
type ReversedAccrualDTO struct {
	OriginalEntryID string `json:"original_entry_id"`
	ReversalEntryID string `json:"reversal_entry_id"`
	Period          string `json:"period"`
}

// SkippedAccrualDTO is one accrual a correction examined and left alone.
type SkippedAccrualDTO struct {
	EntryID string `json:"entry_id"`
	Period  string `json:"period"`
	Reason  string `json:"reason"`
}

// SideEffectsDTO reports the lease-end cascade.
type SideEffectsDTO struct {
	EndDateUpdated bool     `json:"end_date_updated"`
	TenancyExpired bool     `json:"tenancy_expired"`
	DebtorExpired  bool     `json:"debtor_expired"`
	RoomReleased   bool     `json:"room_released"`
	Failures       []string `json:"failures,omitempty"`
}

// CorrectionResultDTO is the response of POST /api/tenancies/{id}/corrections.
type CorrectionResultDTO struct {
	TenancyID     string               `json:"tenancy_id"`
	Outcome       string               `json:"outcome"`
	FailureReason string               `json:"failure_reason,omitempty"`
	OldEndDate    string               `json:"old_end_date,omitempty"`
	NewEndDate    string               `json:"new_end_date"`
	Reversed      []ReversedAccrualDTO `json:"reversed"`
	Skipped       []SkippedAccrualDTO  `json:"skipped"`
	Errors        []ItemErrorDTO       `json:"errors,omitempty"`
	SideEffects   SideEffectsDTO       `json:"side_effects"`
	RenewalID     string               `json:"renewal_id,omitempty"`
}

// ItemErrorDTO is a per-accrual failure that did not abort the correction.
type ItemErrorDTO struct {
	EntryID string `json:"entry_id"`
	Error   string `json:"error"`
}

// EntryLineDTO is one ledger line in API responses.
type EntryLineDTO struct {
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
}

// EntryDTO is one ledger entry in API responses.
type EntryDTO struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Date          string         `json:"date"`
	Description   string         `json:"description"`
	Source        string         `json:"source"`
	Period        string         `json:"period,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Reversed      bool           `json:"reversed"`
	Lines         []EntryLineDTO `json:"lines"`
}

// PostResultDTO is one posting attempt's outcome.
type PostResultDTO struct {
	TenancyID string `json:"tenancy_id"`
	Period    string `json:"period"`
	Outcome   string `json:"outcome"`
	EntryID   string `json:"entry_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunResultDTO is the response of POST /api/accruals/run.
type RunResultDTO struct {
	Period  string          `json:"period"`
	Posted  int             `json:"posted"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
	Results []PostResultDTO `json:"results"`
}

// OffendingAccrualDTO is one unreversed incorrect accrual in an audit report.
type OffendingAccrualDTO struct {
	EntryID         string `json:"entry_id"`
	Period          string `json:"period"`
	Kind            string `json:"kind"`
	PostedAfterEdit bool   `json:"posted_after_edit"`
}

// FlaggedTenancyDTO is one tenancy flagged by the bulk audit.
type FlaggedTenancyDTO struct {
	TenancyID     string                `json:"tenancy_id"`
	PersonID      string                `json:"person_id"`
	Status        string                `json:"status"`
	EndDate       string                `json:"end_date"`
	EndDateEdited bool                  `json:"end_date_edited"`
	RenewalID     string                `json:"renewal_id,omitempty"`
	Accruals      []OffendingAccrualDTO `json:"accruals"`
}

// AuditReportDTO is the response of GET /api/audit/accruals.
type AuditReportDTO struct {
	Target           string              `json:"target"`
	ScannedTenancies int                 `json:"scanned_tenancies"`
	AccrualsLoaded   int                 `json:"accruals_loaded"`
	ReversalsLoaded  int                 `json:"reversals_loaded"`
	Flagged          []FlaggedTenancyDTO `json:"flagged"`
}

// AuditLogEntryDTO is one audit-log record.
type AuditLogEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCorrectionResultDTO(res *correction.CorrectionResult) CorrectionResultDTO {
	dto := CorrectionResultDTO{
		TenancyID:     res.TenancyID,
		Outcome:       string(res.Outcome),
		FailureReason: res.FailureReason,
		NewEndDate:    res.NewEndDate.Format("2006-01-02"),
		Reversed:      []ReversedAccrualDTO{},
		Skipped:       []SkippedAccrualDTO{},
		RenewalID:     res.RenewalID,
		SideEffects: SideEffectsDTO{
			EndDateUpdated: res.SideEffects.EndDateUpdated,
			TenancyExpired: res.SideEffects.TenancyExpired,
			DebtorExpired:  res.SideEffects.DebtorExpired,
			RoomReleased:   res.SideEffects.RoomReleased,
			Failures:       res.SideEffects.Failures,
		},
	}
	if res.OldEndDate != nil {
		dto.OldEndDate = res.OldEndDate.Format("2006-01-02")
	}
	for _, rv := range res.Reversed {
		dto.Reversed = append(dto.Reversed, ReversedAccrualDTO{
			OriginalEntryID: rv.OriginalEntryID,
			ReversalEntryID: rv.ReversalEntryID,
			Period:          rv.Period.String(),
		})
	}
	for _, sk := range res.Skipped {
		dto.Skipped = append(dto.Skipped, SkippedAccrualDTO{
			EntryID: sk.Accrual.Entry.ID,
			Period:  sk.Accrual.Period.String(),
			Reason:  string(sk.Reason),
		})
	}
	for _, ie := range res.Errors {
		dto.Errors = append(dto.Errors, ItemErrorDTO{EntryID: ie.EntryID, Error: ie.Err})
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Date:          e.Date.Format("2006-01-02"),
		Description:   e.Description,
		Source:        string(e.Source),
		Kind:          string(e.Meta.AccrualKind),
		Reversed:      e.Reversed,
		Lines:         []EntryLineDTO{},
	}
	if p, err := ledger.ResolvePeriod(e); err == nil {
		dto.Period = p.String()
	}
	for _, l := range e.Lines {
		dto.Lines = append(dto.Lines, EntryLineDTO{
			AccountCode: l.AccountCode,
			AccountName: l.AccountName,
			Debit:       l.Debit.String(),
			Credit:      l.Credit.String(),
		})
	}
	return dto
}

func toRunResultDTO(run *accrual.RunResult) RunResultDTO {
	dto := RunResultDTO{
		Period:  run.Period.String(),
		Posted:  run.Posted,
		Skipped: run.Skipped,
		Failed:  run.Failed,
		Results: []PostResultDTO{},
	}
	for _, r := range run.Results {
		dto.Results = append(dto.Results, toPostResultDTO(&r))
	}
	return dto
}

func toPostResultDTO(r *accrual.PostResult) PostResultDTO {
	dto := PostResultDTO{
		TenancyID: r.TenancyID,
		Period:    r.Period.String(),
		Outcome:   string(r.Outcome),
		EntryID:   r.EntryID,
		Error:     r.Err,
	}
	if !r.Amount.IsZero() {
		dto.Amount = r.Amount.String()
	}
	return dto
}

func toAuditReportDTO(report *correction.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		Target:           report.Target.String(),
		ScannedTenancies: report.ScannedTenancies,
		AccrualsLoaded:   report.AccrualsLoaded,
		ReversalsLoaded:  report.ReversalsLoaded,
		Flagged:          []FlaggedTenancyDTO{},
	}
	for _, f := range report.Flagged {
		fd := FlaggedTenancyDTO{
			TenancyID:     f.TenancyID,
			PersonID:      f.PersonID,
			Status:        string(f.Status),
			EndDate:       f.EndDate.Format("2006-01-02"),
			EndDateEdited: f.EndDateEdited,
			RenewalID:     f.RenewalID,
			Accruals:      []OffendingAccrualDTO{},
		}
		for _, a := range f.Accruals {
			fd.Accruals = append(fd.Accruals, OffendingAccrualDTO{
				EntryID:         a.EntryID,
				Period:          a.Period.String(),
				Kind:            string(a.Kind),
				PostedAfterEdit: a.PostedAfterEdit,
			})
		}
		dto.Flagged = append(dto.Flagged, fd)
	}
	return dto
}

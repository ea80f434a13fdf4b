/*
handlers.go - HTTP API handlers for the housing ledger

PURPOSE:
  Exposes the accrual and correction engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Tenancies:
    POST   /api/tenancies/{id}/corrections          Correct the lease end date
    GET    /api/tenancies/{id}/accruals             Matched accrual entries
    POST   /api/tenancies/{id}/accruals/lease-start Post the prorated first month
    GET    /api/tenancies/{id}/audit-log            Audit trail for the tenancy

  Accruals:
    POST   /api/accruals/run                        Monthly accrual run

  Audit:
    GET    /api/audit/accruals?month=&year=         Bulk consistency scan

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Tenancy not found
  - 500: Internal errors
  Expected domain conditions ("nothing to correct") are 200s carrying the
  structured result, not errors.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/domus/housing-ledger/accrual"
	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Corrections *correction.Service
	Auditor     *correction.Auditor
	Poster      *accrual.Poster
	Stores      correction.Stores
}

// NewHandler creates a new handler.
func NewHandler(svc *correction.Service, auditor *correction.Auditor, poster *accrual.Poster, stores correction.Stores) *Handler {
	return &Handler{Corrections: svc, Auditor: auditor, Poster: poster, Stores: stores}
}

// =============================================================================
// CORRECTION ENDPOINTS
// =============================================================================

// CorrectTenancy applies an end-date correction to one tenancy.
// POST /api/tenancies/{id}/corrections
func (h *Handler) CorrectTenancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CorrectionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	res, err := h.Corrections.CorrectTenancy(r.Context(), correction.CorrectionRequest{
		TenancyID: id,
		EndDate:   end,
		Reason:    req.Reason,
		Actor:     req.Actor,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Correction failed", err)
		return
	}
	if res.Outcome == correction.OutcomeFailed && res.FailureReason == "tenancy_not_found" {
		writeError(w, http.StatusNotFound, "Tenancy not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toCorrectionResultDTO(res))
}

// ListTenancyAccruals returns every accrual entry matched to the tenancy
// across all identifier schemes, oldest period first.
// GET /api/tenancies/{id}/accruals
func (h *Handler) ListTenancyAccruals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	t, err := h.Stores.Tenancies.Get(ctx, id)
	if errors.Is(err, housing.ErrTenancyNotFound) {
		writeError(w, http.StatusNotFound, "Tenancy not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tenancy", err)
		return
	}

	debtors, err := h.Stores.Debtors.FindByPerson(ctx, t.PersonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load debtors", err)
		return
	}
	ids := correction.ResolveIdentifiers(t, debtors)

	matcher := &correction.Matcher{
		Entries:   h.Stores.Entries,
		Tenancies: h.Stores.Tenancies,
		Debtors:   h.Stores.Debtors,
	}
	accruals, err := matcher.FindAccruals(ctx, t, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to match accruals", err)
		return
	}

	sort.Slice(accruals, func(i, j int) bool {
		return accruals[i].Period.FirstDay().Before(accruals[j].Period.FirstDay())
	})
	dtos := make([]EntryDTO, 0, len(accruals))
	for _, a := range accruals {
		dtos = append(dtos, toEntryDTO(a.Entry))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAuditLog returns the tenancy's audit trail.
// GET /api/tenancies/{id}/audit-log
func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Stores.Audit.ByTenancy(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit log", err)
		return
	}

	dtos := make([]AuditLogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditLogEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp.Format(time.RFC3339),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCRUAL ENDPOINTS
// =============================================================================

// PostLeaseStart posts the prorated first-month accrual.
// POST /api/tenancies/{id}/accruals/lease-start
func (h *Handler) PostLeaseStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Poster.PostLeaseStart(r.Context(), id)
	if err != nil {
		if errors.Is(err, housing.ErrTenancyNotFound) {
			writeError(w, http.StatusNotFound, "Tenancy not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to post lease-start accrual", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResultDTO(res))
}

// RunAccruals posts the month's accrual for every approved tenancy.
// POST /api/accruals/run
func (h *Handler) RunAccruals(w http.ResponseWriter, r *http.Request) {
	var req RunAccrualsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	period, ok := periodFromRequest(req.Month, req.Year)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid month/year", nil)
		return
	}
	if period.IsZero() {
		period = ledger.PeriodOf(time.Now())
	}

	run, err := h.Poster.RunMonth(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(run))
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// AuditAccruals runs the bulk consistency scan.
// GET /api/audit/accruals?month=&year=
func (h *Handler) AuditAccruals(w http.ResponseWriter, r *http.Request) {
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))

	period, ok := periodFromRequest(month, year)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid month/year", nil)
		return
	}

	report, err := h.Auditor.Scan(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Audit scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

// periodFromRequest maps optional month/year parameters to a period. Both
// zero means "let the engine default to now"; a partial or out-of-range
// pair is rejected.
func periodFromRequest(month, year int) (ledger.AccrualPeriod, bool) {
	if month == 0 && year == 0 {
		return ledger.AccrualPeriod{}, true
	}
	if month < 1 || month > 12 || year < 1 {
		return ledger.AccrualPeriod{}, false
	}
	return ledger.AccrualPeriod{Year: year, Month: time.Month(month)}, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

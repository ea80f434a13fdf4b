/*
handlers_test.go - HTTP-level tests for the API

Tests for:
- End-date correction endpoint (success, validation, not found)
- Monthly accrual run and lease-start posting
- Bulk audit endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domus/housing-ledger/accrual"
	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/store/memory"
)

var testNow = time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	bundle := store.Bundle()
	clock := func() time.Time { return testNow }

	svc := correction.NewService(bundle, store, store.Rooms(), nil)
	svc.Clock = clock
	auditor := &correction.Auditor{
		Entries:   bundle.Entries,
		Tenancies: bundle.Tenancies,
		Debtors:   bundle.Debtors,
		Clock:     clock,
	}
	poster := &accrual.Poster{
		Entries:   bundle.Entries,
		Tenancies: bundle.Tenancies,
		Debtors:   bundle.Debtors,
		Audit:     bundle.Audit,
		Clock:     clock,
	}

	srv := httptest.NewServer(NewRouter(NewHandler(svc, auditor, poster, bundle)))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedTenancy(store *memory.Store, id string, start time.Time, end *time.Time) housing.Tenancy {
	ten := housing.Tenancy{
		ID:          id,
		PersonID:    "per-" + id,
		TenantName:  "Alex Tenant",
		StartDate:   start,
		EndDate:     end,
		Status:      housing.TenancyApproved,
		MonthlyRent: decimal.NewFromInt(500),
	}
	store.PutTenancy(ten)
	return ten
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCorrectTenancyEndpoint_ReversesAndReports(t *testing.T) {
	// GIVEN: A tenancy with accruals posted past its actual leave date
	// WHEN:  POST /api/tenancies/{id}/corrections
	// THEN:  200 with the reversal summary

	srv, store := newTestServer(t)

	end := time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)
	ten := seedTenancy(store, "ten-1", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), &end)

	// Post April-June through the engine so the entries are realistic.
	for _, m := range []time.Month{time.April, time.May, time.June} {
		resp := postJSON(t, srv.URL+"/api/accruals/run", RunAccrualsRequest{Month: int(m), Year: 2025})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, srv.URL+"/api/tenancies/"+ten.ID+"/corrections", CorrectionRequestDTO{
		EndDate: "2025-03-15",
		Reason:  "tenant moved out early",
		Actor:   "admin-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[CorrectionResultDTO](t, resp)
	assert.Equal(t, "corrected", result.Outcome)
	assert.Len(t, result.Reversed, 3)
	assert.True(t, result.SideEffects.TenancyExpired)
	assert.Equal(t, "2025-03-15", result.NewEndDate)
}

func TestCorrectTenancyEndpoint_UnknownTenancy_404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tenancies/nope/corrections", CorrectionRequestDTO{
		EndDate: "2025-03-15",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCorrectTenancyEndpoint_BadDate_400(t *testing.T) {
	srv, store := newTestServer(t)
	seedTenancy(store, "ten-1", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), nil)

	resp := postJSON(t, srv.URL+"/api/tenancies/ten-1/corrections", CorrectionRequestDTO{
		EndDate: "15/03/2025",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLeaseStartEndpoint_PostsProratedEntry(t *testing.T) {
	srv, store := newTestServer(t)
	seedTenancy(store, "ten-1", time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), nil)

	resp := postJSON(t, srv.URL+"/api/tenancies/ten-1/accruals/lease-start", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decodeBody[PostResultDTO](t, resp)
	assert.Equal(t, "posted", result.Outcome)
	assert.Equal(t, "2025-03", result.Period)
	assert.NotEmpty(t, result.EntryID)
}

func TestRunAccrualsEndpoint_ThenListTenancyAccruals(t *testing.T) {
	srv, store := newTestServer(t)
	ten := seedTenancy(store, "ten-1", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), nil)

	resp := postJSON(t, srv.URL+"/api/accruals/run", RunAccrualsRequest{Month: 3, Year: 2025})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeBody[RunResultDTO](t, resp)
	assert.Equal(t, 1, run.Posted)

	listResp, err := http.Get(srv.URL + "/api/tenancies/" + ten.ID + "/accruals")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	entries := decodeBody[[]EntryDTO](t, listResp)
	require.Len(t, entries, 1)
	assert.Equal(t, "2025-03", entries[0].Period)
}

func TestAuditEndpoint_FlagsOffenders(t *testing.T) {
	srv, store := newTestServer(t)

	end := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	seedTenancy(store, "ten-1", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), &end)

	// May accrual posted although the lease ended in March. RunMonth skips
	// ended tenancies, so post it while the end date is still open.
	ten, _ := store.GetTenancy(context.Background(), "ten-1")
	ten.EndDate = nil
	store.PutTenancy(ten)
	resp := postJSON(t, srv.URL+"/api/accruals/run", RunAccrualsRequest{Month: 5, Year: 2025})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	ten.EndDate = &end
	store.PutTenancy(ten)

	auditResp, err := http.Get(srv.URL + "/api/audit/accruals?month=7&year=2025")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, auditResp.StatusCode)

	report := decodeBody[AuditReportDTO](t, auditResp)
	require.Len(t, report.Flagged, 1)
	assert.Equal(t, "ten-1", report.Flagged[0].TenancyID)
	require.Len(t, report.Flagged[0].Accruals, 1)
	assert.Equal(t, "2025-05", report.Flagged[0].Accruals[0].Period)
}

func TestAuditEndpoint_BadMonth_400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/audit/accruals?month=13&year=2025")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

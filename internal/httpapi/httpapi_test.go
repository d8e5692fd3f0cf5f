package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/docstore/memory"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.New(), logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHelloWithoutName(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/hello", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Code != "missing_name" {
		t.Errorf("expected code missing_name, got %q", resp.Code)
	}
	if resp.Error != "no name query parameter provided, can't say hello to you" {
		t.Errorf("unexpected error message %q", resp.Error)
	}
}

func TestHelloWithName(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/hello?name=Sam", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "Hello Sam!" {
		t.Errorf("expected body %q, got %q", "Hello Sam!", got)
	}
}

func TestPostReport(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/reports", `{"name":"offsite","currency":"usd"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp reportResponse
	decode(t, rec, &resp)
	if _, err := uuid.Parse(resp.ID); err != nil {
		t.Errorf("expected a uuid id, got %q", resp.ID)
	}
	if resp.Currency != "USD" {
		t.Errorf("expected currency normalized to USD, got %q", resp.Currency)
	}
	if resp.TotalMinor != 0 {
		t.Errorf("expected zero total on a new report, got %d", resp.TotalMinor)
	}
	if resp.CreatedAt != nil {
		t.Errorf("timestamps are stamped by the engine, not the handler")
	}
}

func TestPostReportValidation(t *testing.T) {
	srv := newTestServer()
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"name":`},
		{name: "missing currency", body: `{"name":"offsite"}`},
		{name: "blank currency", body: `{"name":"offsite","currency":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPost, "/v1/reports", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestGetReport(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/reports", `{"currency":"EUR"}`)
	var created reportResponse
	decode(t, rec, &created)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/reports/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got reportResponse
	decode(t, rec, &got)
	if got.ID != created.ID || got.Currency != "EUR" {
		t.Errorf("unexpected report %+v", got)
	}
}

func TestGetReportNotFound(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/v1/reports/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestGetReportBadID(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/v1/reports/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestDeleteReport(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/reports", `{"currency":"USD"}`)
	var created reportResponse
	decode(t, rec, &created)

	rec = do(t, srv.Handler(), http.MethodDelete, "/v1/reports/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/v1/reports/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestPostExpense(t *testing.T) {
	srv := newTestServer()
	reportID := uuid.NewString()
	body := `{"report_id":"` + reportID + `","currency":"usd","amount_minor":5000,"memo":"taxi"}`
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp expenseResponse
	decode(t, rec, &resp)
	if resp.ReportID != reportID {
		t.Errorf("expected report_id %s, got %q", reportID, resp.ReportID)
	}
	if resp.AmountMinor != 5000 || resp.Currency != "USD" || resp.Memo != "taxi" {
		t.Errorf("unexpected expense %+v", resp)
	}
	if resp.Processed {
		t.Errorf("a new expense cannot be processed yet")
	}
}

func TestPostExpenseWithoutReportIsAccepted(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", `{"currency":"USD","amount_minor":100}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp expenseResponse
	decode(t, rec, &resp)
	if resp.ReportID != "" {
		t.Errorf("expected empty report_id, got %q", resp.ReportID)
	}
}

func TestPostExpenseValidation(t *testing.T) {
	srv := newTestServer()
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing currency", body: `{"amount_minor":100}`},
		{name: "bad report id", body: `{"currency":"USD","amount_minor":100,"report_id":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestPatchExpense(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", `{"currency":"USD","amount_minor":5000}`)
	var created expenseResponse
	decode(t, rec, &created)

	rec = do(t, srv.Handler(), http.MethodPatch, "/v1/expenses/"+created.ID, `{"amount_minor":8000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var patched expenseResponse
	decode(t, rec, &patched)
	if patched.AmountMinor != 8000 {
		t.Errorf("expected amount 8000, got %d", patched.AmountMinor)
	}

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/expenses/"+created.ID, "")
	var got expenseResponse
	decode(t, rec, &got)
	if got.AmountMinor != 8000 {
		t.Errorf("patch not persisted, amount %d", got.AmountMinor)
	}
}

func TestPatchExpenseRequiresAmount(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", `{"currency":"USD","amount_minor":5000}`)
	var created expenseResponse
	decode(t, rec, &created)

	rec = do(t, srv.Handler(), http.MethodPatch, "/v1/expenses/"+created.ID, `{"memo":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestPatchExpenseNotFound(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPatch, "/v1/expenses/"+uuid.NewString(), `{"amount_minor":1}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestDeleteExpense(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/expenses", `{"currency":"USD","amount_minor":100}`)
	var created expenseResponse
	decode(t, rec, &created)

	rec = do(t, srv.Handler(), http.MethodDelete, "/v1/expenses/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/v1/expenses/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	srv := newTestServer()
	rec := do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

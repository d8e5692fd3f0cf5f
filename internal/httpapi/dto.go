package httpapi

import (
	"time"

	"github.com/tinoosan/tally/internal/reports"
)

type reportRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type reportResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Currency   string     `json:"currency"`
	TotalMinor int64      `json:"total_minor"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type expenseRequest struct {
	ReportID    string `json:"report_id"`
	Currency    string `json:"currency"`
	AmountMinor int64  `json:"amount_minor"`
	Memo        string `json:"memo"`
}

type expensePatchRequest struct {
	AmountMinor *int64 `json:"amount_minor"`
}

type expenseResponse struct {
	ID          string     `json:"id"`
	ReportID    string     `json:"report_id,omitempty"`
	Currency    string     `json:"currency"`
	AmountMinor int64      `json:"amount_minor"`
	Memo        string     `json:"memo,omitempty"`
	Processed   bool       `json:"processed"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func toReportResponse(r reports.Report) reportResponse {
	return reportResponse{
		ID:         r.ID.String(),
		Name:       r.Name,
		Currency:   r.Currency,
		TotalMinor: r.TotalMinor,
		CreatedAt:  timePtr(r.CreatedAt),
		UpdatedAt:  timePtr(r.UpdatedAt),
	}
}

func toExpenseResponse(e reports.Expense) expenseResponse {
	resp := expenseResponse{
		ID:          e.ID.String(),
		Currency:    e.Currency,
		AmountMinor: e.AmountMinor,
		Memo:        e.Memo,
		Processed:   e.ProcessedEventID != "",
		CreatedAt:   timePtr(e.CreatedAt),
		UpdatedAt:   timePtr(e.UpdatedAt),
	}
	if e.HasReport() {
		resp.ReportID = e.ReportID.String()
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

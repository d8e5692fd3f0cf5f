// Package reports defines the expense-report domain documents and their
// docstore encoding. A Report carries a running total maintained by the
// aggregation engine from the Expense documents that reference it.
package reports

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/tally/internal/docstore"
)

// Collection names in the document store.
const (
	CollectionReports  = "reports"
	CollectionExpenses = "expenses"
)

// Report is the aggregate target. Total is the sum of all existing expenses
// referencing it, in minor currency units, and is mutated only by the
// aggregation engine. Timestamps are stamped by the engine, never by the
// actor that created the document.
type Report struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name,omitempty"`
	Currency   string    `json:"currency"`
	TotalMinor int64     `json:"total_minor"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Expense is one charge contributing to a report's total. ProcessedEventID
// holds the id of the last lifecycle event whose effect was committed to the
// parent report; empty means not yet processed.
type Expense struct {
	ID               uuid.UUID `json:"id"`
	ReportID         uuid.UUID `json:"report_id"`
	Currency         string    `json:"currency"`
	AmountMinor      int64     `json:"amount_minor"`
	Memo             string    `json:"memo,omitempty"`
	ProcessedEventID string    `json:"processed_event_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ReportRef addresses a report document.
func ReportRef(id uuid.UUID) docstore.Ref {
	return docstore.Ref{Collection: CollectionReports, ID: id.String()}
}

// ExpenseRef addresses an expense document.
func ExpenseRef(id uuid.UUID) docstore.Ref {
	return docstore.Ref{Collection: CollectionExpenses, ID: id.String()}
}

func (r Report) Ref() docstore.Ref  { return ReportRef(r.ID) }
func (e Expense) Ref() docstore.Ref { return ExpenseRef(e.ID) }

// Total returns the running total as an exact money amount.
func (r Report) Total() (money.Amount, error) {
	return money.NewAmountFromMinorUnits(r.Currency, r.TotalMinor)
}

// Amount returns the charge as an exact money amount.
func (e Expense) Amount() (money.Amount, error) {
	return money.NewAmountFromMinorUnits(e.Currency, e.AmountMinor)
}

// HasReport reports whether the expense references a report at all.
// A zero ReportID is tolerated: such expenses never touch any total.
func (e Expense) HasReport() bool { return e.ReportID != uuid.Nil }

func (r Report) Encode() ([]byte, error)  { return json.Marshal(r) }
func (e Expense) Encode() ([]byte, error) { return json.Marshal(e) }

// DecodeReport parses a report document.
func DecodeReport(data []byte) (Report, error) {
	var r Report
	err := json.Unmarshal(data, &r)
	return r, err
}

// DecodeExpense parses an expense document.
func DecodeExpense(data []byte) (Expense, error) {
	var e Expense
	err := json.Unmarshal(data, &e)
	return e, err
}

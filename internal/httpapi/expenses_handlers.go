package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/errs"
	"github.com/tinoosan/tally/internal/reports"
)

func (s *Server) postExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		badRequest(w, "currency is required")
		return
	}
	// A missing report_id is accepted: the engine tolerates dangling
	// references and such an expense never touches any total.
	reportID := uuid.Nil
	if strings.TrimSpace(req.ReportID) != "" {
		var err error
		reportID, err = uuid.Parse(req.ReportID)
		if err != nil {
			badRequest(w, "invalid report_id")
			return
		}
	}
	exp := reports.Expense{
		ID:          uuid.New(),
		ReportID:    reportID,
		Currency:    currency,
		AmountMinor: req.AmountMinor,
		Memo:        req.Memo,
	}
	data, err := exp.Encode()
	if err != nil {
		internalErr(w)
		return
	}
	if err := s.store.Set(r.Context(), exp.Ref(), data); err != nil {
		s.log.Error("create expense failed", "err", err)
		internalErr(w)
		return
	}
	toJSON(w, http.StatusCreated, toExpenseResponse(exp))
}

func (s *Server) getExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid expense id")
		return
	}
	snap, err := s.store.Get(r.Context(), reports.ExpenseRef(id))
	if errors.Is(err, errs.ErrNotFound) {
		notFound(w)
		return
	}
	if err != nil {
		s.log.Error("get expense failed", "expense_id", id, "err", err)
		internalErr(w)
		return
	}
	exp, err := reports.DecodeExpense(snap.Data)
	if err != nil {
		internalErr(w)
		return
	}
	toJSON(w, http.StatusOK, toExpenseResponse(exp))
}

// patchExpense changes the amount with a plain read-modify-write, the way an
// external client would. The processed marker and timestamps carry over; the
// engine picks the change up from the update event.
func (s *Server) patchExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid expense id")
		return
	}
	var req expensePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.AmountMinor == nil {
		badRequest(w, "amount_minor is required")
		return
	}
	snap, err := s.store.Get(r.Context(), reports.ExpenseRef(id))
	if errors.Is(err, errs.ErrNotFound) {
		notFound(w)
		return
	}
	if err != nil {
		s.log.Error("get expense failed", "expense_id", id, "err", err)
		internalErr(w)
		return
	}
	exp, err := reports.DecodeExpense(snap.Data)
	if err != nil {
		internalErr(w)
		return
	}
	exp.AmountMinor = *req.AmountMinor
	data, err := exp.Encode()
	if err != nil {
		internalErr(w)
		return
	}
	if err := s.store.Set(r.Context(), snap.Ref, data); err != nil {
		s.log.Error("update expense failed", "expense_id", id, "err", err)
		internalErr(w)
		return
	}
	toJSON(w, http.StatusOK, toExpenseResponse(exp))
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid expense id")
		return
	}
	if err := s.store.Delete(r.Context(), reports.ExpenseRef(id)); err != nil {
		s.log.Error("delete expense failed", "expense_id", id, "err", err)
		internalErr(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

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

func (s *Server) postReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		badRequest(w, "currency is required")
		return
	}
	rep := reports.Report{ID: uuid.New(), Name: req.Name, Currency: currency}
	data, err := rep.Encode()
	if err != nil {
		internalErr(w)
		return
	}
	if err := s.store.Set(r.Context(), rep.Ref(), data); err != nil {
		s.log.Error("create report failed", "err", err)
		internalErr(w)
		return
	}
	toJSON(w, http.StatusCreated, toReportResponse(rep))
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid report id")
		return
	}
	snap, err := s.store.Get(r.Context(), reports.ReportRef(id))
	if errors.Is(err, errs.ErrNotFound) {
		notFound(w)
		return
	}
	if err != nil {
		s.log.Error("get report failed", "report_id", id, "err", err)
		internalErr(w)
		return
	}
	rep, err := reports.DecodeReport(snap.Data)
	if err != nil {
		internalErr(w)
		return
	}
	toJSON(w, http.StatusOK, toReportResponse(rep))
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid report id")
		return
	}
	if err := s.store.Delete(r.Context(), reports.ReportRef(id)); err != nil {
		s.log.Error("delete report failed", "report_id", id, "err", err)
		internalErr(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

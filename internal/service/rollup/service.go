// Package rollup is the transactional aggregation engine. It applies expense
// lifecycle events to report totals exactly once despite at-least-once event
// delivery and concurrent conflicting writers.
//
// Every path runs as a single optimistic store transaction that re-reads the
// expense, consults the processed marker, and writes marker and total
// together. Reading the report outside that transaction would reintroduce
// the lost-update race the engine exists to prevent.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/errs"
	"github.com/tinoosan/tally/internal/reports"
)

// Service applies expense lifecycle events to report totals and stamps newly
// created reports. Deltas are computed from the delivered event snapshots,
// never from re-read state, so an event's effect is the same no matter when
// it lands.
type Service interface {
	ApplyCreate(ctx context.Context, eventID string, after reports.Expense) error
	ApplyUpdate(ctx context.Context, eventID string, before, after reports.Expense) error
	ApplyDelete(ctx context.Context, eventID string, before reports.Expense) error
	StampReport(ctx context.Context, reportID uuid.UUID) error
}

type service struct {
	store docstore.Store
	log   *slog.Logger
	now   func() time.Time
}

// New constructs the aggregation engine over the given store.
func New(store docstore.Store, log *slog.Logger) Service {
	return &service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ApplyCreate marks a new expense processed and adds its amount to the
// referenced report total, both inside one transaction. The expense is
// stamped and marked even when the report reference dangles; only the total
// write is skipped then.
func (s *service) ApplyCreate(ctx context.Context, eventID string, after reports.Expense) error {
	outcome := outcomeApplied
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		snap, err := tx.Get(reports.ExpenseRef(after.ID))
		if errors.Is(err, errs.ErrNotFound) {
			// Gone before the event landed; the delete event settles it.
			outcome = outcomeMissing
			return nil
		}
		if err != nil {
			return err
		}
		exp, err := reports.DecodeExpense(snap.Data)
		if err != nil {
			return fmt.Errorf("decode expense %s: %w", snap.Ref, err)
		}
		if alreadyProcessed(exp, docstore.EventCreated, eventID) {
			s.log.Info("create event already applied", "expense_id", exp.ID, "event_id", eventID)
			outcome = outcomeDuplicate
			return nil
		}
		now := s.now()
		exp.ProcessedEventID = eventID
		if exp.CreatedAt.IsZero() {
			exp.CreatedAt = now
		}
		exp.UpdatedAt = now
		data, err := exp.Encode()
		if err != nil {
			return err
		}
		tx.Set(snap.Ref, data)
		return s.adjustTotal(tx, docstore.EventCreated, nil, &after, now, &outcome)
	})
	if err != nil {
		return err
	}
	eventsTotal.WithLabelValues(string(docstore.EventCreated), outcome).Inc()
	return nil
}

// ApplyUpdate marks the expense with this event's id and applies the signed
// amount difference to the report total. A marker from an earlier event does
// not block a new update; re-delivery of the same event is a no-op.
func (s *service) ApplyUpdate(ctx context.Context, eventID string, before, after reports.Expense) error {
	if before.ReportID != after.ReportID {
		s.log.Warn("expense report reference changed",
			"expense_id", after.ID, "from", before.ReportID, "to", after.ReportID)
	}
	outcome := outcomeApplied
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		snap, err := tx.Get(reports.ExpenseRef(after.ID))
		if errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("expense gone before update applied", "expense_id", after.ID, "event_id", eventID)
			outcome = outcomeMissing
			return nil
		}
		if err != nil {
			return err
		}
		exp, err := reports.DecodeExpense(snap.Data)
		if err != nil {
			return fmt.Errorf("decode expense %s: %w", snap.Ref, err)
		}
		if alreadyProcessed(exp, docstore.EventUpdated, eventID) {
			s.log.Info("update event already applied", "expense_id", exp.ID, "event_id", eventID)
			outcome = outcomeDuplicate
			return nil
		}
		now := s.now()
		exp.ProcessedEventID = eventID
		exp.UpdatedAt = now
		data, err := exp.Encode()
		if err != nil {
			return err
		}
		tx.Set(snap.Ref, data)
		return s.adjustTotal(tx, docstore.EventUpdated, &before, &after, now, &outcome)
	})
	if err != nil {
		return err
	}
	eventsTotal.WithLabelValues(string(docstore.EventUpdated), outcome).Inc()
	return nil
}

// ApplyDelete subtracts the deleted expense's amount from the report total.
// There is no marker left to guard with; instead the expense ref is re-read
// and a document that exists again means the delete event is stale.
func (s *service) ApplyDelete(ctx context.Context, eventID string, before reports.Expense) error {
	outcome := outcomeApplied
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, err := tx.Get(reports.ExpenseRef(before.ID))
		if err == nil {
			s.log.Warn("expense still present, skipping delete event",
				"expense_id", before.ID, "event_id", eventID)
			outcome = outcomeDuplicate
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		return s.adjustTotal(tx, docstore.EventDeleted, &before, nil, s.now(), &outcome)
	})
	if err != nil {
		return err
	}
	eventsTotal.WithLabelValues(string(docstore.EventDeleted), outcome).Inc()
	return nil
}

// StampReport sets the server timestamps on a newly created report. A report
// that already carries a creation timestamp was stamped before, so a
// re-delivered create event changes nothing.
func (s *service) StampReport(ctx context.Context, reportID uuid.UUID) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		snap, err := tx.Get(reports.ReportRef(reportID))
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rep, err := reports.DecodeReport(snap.Data)
		if err != nil {
			return fmt.Errorf("decode report %s: %w", snap.Ref, err)
		}
		if !rep.CreatedAt.IsZero() {
			return nil
		}
		now := s.now()
		rep.CreatedAt = now
		rep.UpdatedAt = now
		data, err := rep.Encode()
		if err != nil {
			return err
		}
		tx.Set(snap.Ref, data)
		return nil
	})
}

// adjustTotal applies the event's delta to the referenced report inside the
// caller's transaction. Dangling references are warned about and leave every
// report untouched; they are not retried and never reconciled retroactively.
func (s *service) adjustTotal(tx docstore.Tx, kind docstore.EventKind, before, after *reports.Expense, now time.Time, outcome *string) error {
	target := after
	if kind == docstore.EventDeleted {
		target = before
	}
	if !target.HasReport() {
		s.log.Warn("expense has no report reference", "expense_id", target.ID, "kind", string(kind))
		*outcome = outcomeDangling
		return nil
	}
	snap, err := tx.Get(reports.ReportRef(target.ReportID))
	if errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("no report found for expense",
			"report_id", target.ReportID, "expense_id", target.ID, "kind", string(kind))
		*outcome = outcomeDangling
		return nil
	}
	if err != nil {
		return err
	}
	rep, err := reports.DecodeReport(snap.Data)
	if err != nil {
		return fmt.Errorf("decode report %s: %w", snap.Ref, err)
	}
	delta, err := Delta(kind, before, after)
	if err != nil {
		return err
	}
	total, err := rep.Total()
	if err != nil {
		return fmt.Errorf("report %s total: %w", rep.ID, err)
	}
	sum, err := total.Add(delta)
	if err != nil {
		// Mixed currencies cannot be summed; leave the total alone.
		s.log.Warn("currency mismatch between expense and report",
			"report_id", rep.ID, "expense_id", target.ID,
			"report_currency", rep.Currency, "expense_currency", target.Currency)
		*outcome = outcomeMismatch
		return nil
	}
	minor, ok := sum.MinorUnits()
	if !ok {
		return fmt.Errorf("report %s: total %s not representable in minor units", rep.ID, sum)
	}
	rep.TotalMinor = minor
	rep.UpdatedAt = now
	data, err := rep.Encode()
	if err != nil {
		return err
	}
	tx.Set(snap.Ref, data)
	return nil
}

// Package dispatch feeds committed document changes from the store's change
// feed to their handlers: expense events to the aggregation engine, report
// events to stamping and cascade deletion. It owns the payload parsing and
// validation glue between the two.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/reports"
	"github.com/tinoosan/tally/internal/service/cascade"
	"github.com/tinoosan/tally/internal/service/rollup"
)

const defaultWorkers = 8

// Dispatcher routes change events to handlers. Events for the same document
// always land on the same worker, so effects for one document apply in
// commit order while distinct documents proceed in parallel.
type Dispatcher struct {
	events  <-chan docstore.Event
	rollup  rollup.Service
	cascade cascade.Service
	log     *slog.Logger
	workers int
}

// New constructs a dispatcher over a subscribed change feed.
func New(events <-chan docstore.Event, roll rollup.Service, casc cascade.Service, log *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{events: events, rollup: roll, cascade: casc, log: log, workers: workers}
}

// Run consumes events until the feed channel closes, then drains the
// per-worker queues. Closing the store's feed is the shutdown signal;
// ctx only bounds individual handler calls, so cancelling it does not
// abandon a committed backlog. Errors local to one event are logged and
// absorbed, never retried; the store already retried transaction conflicts
// before any error surfaces here.
func (d *Dispatcher) Run(ctx context.Context) {
	queues := make([]chan docstore.Event, d.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan docstore.Event, 64)
		wg.Add(1)
		go func(q <-chan docstore.Event) {
			defer wg.Done()
			for ev := range q {
				d.handle(ctx, ev)
			}
		}(queues[i])
	}
	for ev := range d.events {
		queues[d.route(ev.Ref)] <- ev
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
}

func (d *Dispatcher) route(ref docstore.Ref) int {
	h := fnv.New32a()
	h.Write([]byte(ref.ID))
	return int(h.Sum32() % uint32(d.workers))
}

func (d *Dispatcher) handle(ctx context.Context, ev docstore.Event) {
	var err error
	switch ev.Ref.Collection {
	case reports.CollectionExpenses:
		err = d.expense(ctx, ev)
	case reports.CollectionReports:
		err = d.report(ctx, ev)
	default:
		return
	}
	if err != nil {
		d.log.Error("event handling failed",
			"event_id", ev.ID, "kind", string(ev.Kind), "ref", ev.Ref.String(), "err", err)
	}
}

func (d *Dispatcher) expense(ctx context.Context, ev docstore.Event) error {
	eventID := ev.ID.String()
	switch ev.Kind {
	case docstore.EventCreated:
		after, err := reports.DecodeExpense(ev.After)
		if err != nil {
			return fmt.Errorf("decode expense snapshot: %w", err)
		}
		return d.rollup.ApplyCreate(ctx, eventID, after)
	case docstore.EventUpdated:
		before, err := reports.DecodeExpense(ev.Before)
		if err != nil {
			return fmt.Errorf("decode expense before-snapshot: %w", err)
		}
		after, err := reports.DecodeExpense(ev.After)
		if err != nil {
			return fmt.Errorf("decode expense after-snapshot: %w", err)
		}
		if before.AmountMinor == after.AmountMinor && before.ReportID == after.ReportID {
			// Marker or timestamp write, or an amount-preserving touch:
			// nothing to aggregate, so no transaction is opened at all.
			return nil
		}
		return d.rollup.ApplyUpdate(ctx, eventID, before, after)
	case docstore.EventDeleted:
		before, err := reports.DecodeExpense(ev.Before)
		if err != nil {
			return fmt.Errorf("decode expense before-snapshot: %w", err)
		}
		return d.rollup.ApplyDelete(ctx, eventID, before)
	}
	return nil
}

func (d *Dispatcher) report(ctx context.Context, ev docstore.Event) error {
	switch ev.Kind {
	case docstore.EventCreated:
		rep, err := reports.DecodeReport(ev.After)
		if err != nil {
			return fmt.Errorf("decode report snapshot: %w", err)
		}
		return d.rollup.StampReport(ctx, rep.ID)
	case docstore.EventDeleted:
		rep, err := reports.DecodeReport(ev.Before)
		if err != nil {
			return fmt.Errorf("decode report before-snapshot: %w", err)
		}
		if err := d.cascade.Run(ctx, rep.ID); err != nil {
			// Distinct failure mode: the cascade run aborted and the report
			// may still have children. Re-running is safe.
			return fmt.Errorf("cascade delete: %w", err)
		}
	}
	return nil
}

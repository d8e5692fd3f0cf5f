package dispatch_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/tally/internal/dispatch"
	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/docstore/memory"
	"github.com/tinoosan/tally/internal/reports"
	"github.com/tinoosan/tally/internal/service/cascade"
	"github.com/tinoosan/tally/internal/service/rollup"
)

// newEngine wires a memory store to a running dispatcher the way main does:
// the store's change feed drives the aggregation and cascade services.
func newEngine(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	roll := rollup.New(st, log)
	casc := cascade.New(st, log, cascade.WithPageSize(10), cascade.WithBatchThreshold(20))
	d := dispatch.New(st.Subscribe(256), roll, casc, log, 4)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		st.CloseFeed()
		<-done
		st.Close()
	})
	return st
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func putReport(t *testing.T, st *memory.Store, rep reports.Report) reports.Report {
	t.Helper()
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	data, err := rep.Encode()
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), rep.Ref(), data))
	return rep
}

func putExpense(t *testing.T, st *memory.Store, exp reports.Expense) reports.Expense {
	t.Helper()
	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	data, err := exp.Encode()
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), exp.Ref(), data))
	return exp
}

func readReport(t *testing.T, st *memory.Store, id uuid.UUID) reports.Report {
	t.Helper()
	snap, err := st.Get(context.Background(), reports.ReportRef(id))
	require.NoError(t, err)
	rep, err := reports.DecodeReport(snap.Data)
	require.NoError(t, err)
	return rep
}

func readExpense(t *testing.T, st *memory.Store, id uuid.UUID) reports.Expense {
	t.Helper()
	snap, err := st.Get(context.Background(), reports.ExpenseRef(id))
	require.NoError(t, err)
	exp, err := reports.DecodeExpense(snap.Data)
	require.NoError(t, err)
	return exp
}

func TestExpenseLifecycleDrivesReportTotal(t *testing.T) {
	st := newEngine(t)
	ctx := context.Background()

	rep := putReport(t, st, reports.Report{Currency: "USD", Name: "offsite"})
	waitFor(t, "report stamped", func() bool {
		return !readReport(t, st, rep.ID).CreatedAt.IsZero()
	})

	exp := putExpense(t, st, reports.Expense{ReportID: rep.ID, Currency: "USD", AmountMinor: 5000})
	waitFor(t, "create applied", func() bool {
		return readReport(t, st, rep.ID).TotalMinor == 5000
	})

	// Amount change, preserving the engine's marker like a client PATCH does.
	cur := readExpense(t, st, exp.ID)
	cur.AmountMinor = 8000
	putExpense(t, st, cur)
	waitFor(t, "update applied", func() bool {
		return readReport(t, st, rep.ID).TotalMinor == 8000
	})

	require.NoError(t, st.Delete(ctx, exp.Ref()))
	waitFor(t, "delete applied", func() bool {
		return readReport(t, st, rep.ID).TotalMinor == 0
	})
}

func TestConcurrentCreatesAllCounted(t *testing.T) {
	st := newEngine(t)

	rep := putReport(t, st, reports.Report{Currency: "USD"})

	const n = 10
	var want int64
	docs := make(map[uuid.UUID][]byte, n)
	for i := 0; i < n; i++ {
		amount := int64((i + 1) * 100)
		want += amount
		exp := reports.Expense{ID: uuid.New(), ReportID: rep.ID, Currency: "USD", AmountMinor: amount}
		data, err := exp.Encode()
		require.NoError(t, err)
		docs[exp.ID] = data
	}

	var wg sync.WaitGroup
	errc := make(chan error, n)
	for id, data := range docs {
		wg.Add(1)
		go func(id uuid.UUID, data []byte) {
			defer wg.Done()
			errc <- st.Set(context.Background(), reports.ExpenseRef(id), data)
		}(id, data)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	waitFor(t, "all creates applied", func() bool {
		return readReport(t, st, rep.ID).TotalMinor == want
	})
}

func TestReportDeleteCascadesToExpenses(t *testing.T) {
	st := newEngine(t)
	ctx := context.Background()

	rep := putReport(t, st, reports.Report{Currency: "USD"})
	const n = 25
	for i := 0; i < n; i++ {
		putExpense(t, st, reports.Expense{ReportID: rep.ID, Currency: "USD", AmountMinor: 100})
	}
	waitFor(t, "all creates applied", func() bool {
		return readReport(t, st, rep.ID).TotalMinor == n*100
	})

	require.NoError(t, st.Delete(ctx, rep.Ref()))
	waitFor(t, "cascade complete", func() bool {
		page, err := st.Query(ctx, reports.CollectionExpenses, "report_id", rep.ID.String(), 0, 0)
		require.NoError(t, err)
		return len(page) == 0
	})
}

func TestAmountPreservingUpdateIsIgnored(t *testing.T) {
	st := newEngine(t)

	rep := putReport(t, st, reports.Report{Currency: "USD"})
	exp := putExpense(t, st, reports.Expense{ReportID: rep.ID, Currency: "USD", AmountMinor: 5000})
	waitFor(t, "create applied", func() bool {
		return readExpense(t, st, exp.ID).ProcessedEventID != ""
	})
	marker := readExpense(t, st, exp.ID).ProcessedEventID

	cur := readExpense(t, st, exp.ID)
	cur.Memo = "team dinner"
	putExpense(t, st, cur)

	// The memo-only change produces an update event with an unchanged amount;
	// the dispatcher drops it without opening a transaction.
	time.Sleep(100 * time.Millisecond)
	got := readExpense(t, st, exp.ID)
	assert.Equal(t, marker, got.ProcessedEventID)
	assert.Equal(t, "team dinner", got.Memo)
	assert.Equal(t, int64(5000), readReport(t, st, rep.ID).TotalMinor)
}

// Writes committed while the process is shutting down must still be
// aggregated: the dispatcher stops on feed close, not on context
// cancellation, so a closed store ends it only after the backlog drains.
func TestRunDrainsBacklogAfterShutdownSignal(t *testing.T) {
	st := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := st.Subscribe(64)

	rep := putReport(t, st, reports.Report{Currency: "USD"})
	putExpense(t, st, reports.Expense{ReportID: rep.ID, Currency: "USD", AmountMinor: 5000})
	st.CloseFeed()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := dispatch.New(events, rollup.New(st, log), cascade.New(st, log), log, 2)
	d.Run(ctx)

	got := readReport(t, st, rep.ID)
	assert.Equal(t, int64(5000), got.TotalMinor)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUnrelatedCollectionsAreIgnored(t *testing.T) {
	st := newEngine(t)
	ctx := context.Background()

	rep := putReport(t, st, reports.Report{Currency: "USD"})
	require.NoError(t, st.Set(ctx, docstore.Ref{Collection: "notes", ID: "n1"}, []byte(`{"body":"hi"}`)))

	waitFor(t, "report stamped", func() bool {
		return !readReport(t, st, rep.ID).CreatedAt.IsZero()
	})
	assert.Equal(t, int64(0), readReport(t, st, rep.ID).TotalMinor)
}

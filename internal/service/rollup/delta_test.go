package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/errs"
	"github.com/tinoosan/tally/internal/reports"
)

func TestDelta(t *testing.T) {
	usd := func(minor int64) *reports.Expense {
		return &reports.Expense{Currency: "USD", AmountMinor: minor}
	}

	tests := []struct {
		name      string
		kind      docstore.EventKind
		before    *reports.Expense
		after     *reports.Expense
		wantMinor int64
	}{
		{name: "create adds full amount", kind: docstore.EventCreated, after: usd(5000), wantMinor: 5000},
		{name: "update adds difference", kind: docstore.EventUpdated, before: usd(5000), after: usd(8000), wantMinor: 3000},
		{name: "update subtracts on decrease", kind: docstore.EventUpdated, before: usd(8000), after: usd(3000), wantMinor: -5000},
		{name: "update unchanged is zero", kind: docstore.EventUpdated, before: usd(5000), after: usd(5000), wantMinor: 0},
		{name: "delete subtracts full amount", kind: docstore.EventDeleted, before: usd(8000), wantMinor: -8000},
		{name: "delete of negative amount adds back", kind: docstore.EventDeleted, before: usd(-2500), wantMinor: 2500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Delta(tt.kind, tt.before, tt.after)
			require.NoError(t, err)
			minor, ok := got.MinorUnits()
			require.True(t, ok)
			assert.Equal(t, tt.wantMinor, minor)
		})
	}
}

func TestDeltaRejectsUnknownKind(t *testing.T) {
	_, err := Delta(docstore.EventKind("moved"), nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestDeltaRejectsUnknownCurrency(t *testing.T) {
	_, err := Delta(docstore.EventCreated, nil, &reports.Expense{Currency: "???", AmountMinor: 100})
	assert.Error(t, err)
}

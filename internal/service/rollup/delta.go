package rollup

import (
	"fmt"

	"github.com/govalues/money"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/errs"
	"github.com/tinoosan/tally/internal/reports"
)

// Delta computes the signed adjustment one expense lifecycle event applies to
// its report total. Amounts stay in exact minor units; no floating point is
// involved at any step.
func Delta(kind docstore.EventKind, before, after *reports.Expense) (money.Amount, error) {
	var (
		minor    int64
		currency string
	)
	switch kind {
	case docstore.EventCreated:
		minor, currency = after.AmountMinor, after.Currency
	case docstore.EventUpdated:
		minor, currency = after.AmountMinor-before.AmountMinor, after.Currency
	case docstore.EventDeleted:
		minor, currency = -before.AmountMinor, before.Currency
	default:
		return money.Amount{}, fmt.Errorf("%w: unknown event kind %q", errs.ErrInvalid, kind)
	}
	return money.NewAmountFromMinorUnits(currency, minor)
}

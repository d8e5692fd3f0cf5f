package rollup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes for eventsTotal. "applied" committed a delta; everything else is
// an absorbed no-op.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeDangling  = "dangling"
	outcomeMissing   = "missing"
	outcomeMismatch  = "currency_mismatch"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "rollup",
		Name:      "events_total",
		Help:      "Expense lifecycle events handled, by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

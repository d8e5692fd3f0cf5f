package cascade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "cascade",
		Name:      "batches_total",
		Help:      "Committed cascade delete batches",
	})
	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "cascade",
		Name:      "deletes_total",
		Help:      "Expense documents deleted by cascades",
	})
)

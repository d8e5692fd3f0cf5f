package rollup

import (
	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/reports"
)

// alreadyProcessed reports whether the effect of the given event has already
// been committed for this expense, based solely on the processed marker
// persisted on the document itself.
//
// A create event is unique per document, so any marker at all means it ran.
// An update event must match the exact marker: a different marker belongs to
// an earlier event and must not block a legitimately new update. Deletes are
// not guarded here; the existence check in the delete path covers them.
func alreadyProcessed(e reports.Expense, kind docstore.EventKind, eventID string) bool {
	switch kind {
	case docstore.EventCreated:
		return e.ProcessedEventID != ""
	case docstore.EventUpdated:
		return e.ProcessedEventID == eventID
	default:
		return false
	}
}

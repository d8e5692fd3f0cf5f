package memory

import "github.com/tinoosan/tally/internal/docstore"

// Compile-time conformance checks.
var (
	_ docstore.Store   = (*Store)(nil)
	_ docstore.Watcher = (*Store)(nil)
)

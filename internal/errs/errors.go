package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrInvalid  = errors.New("invalid")
	// ErrConflict reports an optimistic transaction that kept losing version
	// checks after all retry attempts.
	ErrConflict = errors.New("conflict")
	// ErrBatchLimit reports a batched write that exceeds the store's hard
	// per-batch operation cap.
	ErrBatchLimit = errors.New("batch_limit_exceeded")
	// ErrClosed reports an operation against a store that has been closed.
	ErrClosed = errors.New("store_closed")
)

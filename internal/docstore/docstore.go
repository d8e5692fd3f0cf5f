// Package docstore defines a small versioned document store: per-document
// CRUD, paginated field queries, capped batched writes, optimistic
// multi-document transactions and a change feed over committed writes.
// Implementations live under docstore/memory and docstore/postgres.
package docstore

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/errs"
)

// Ref addresses one document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Snapshot is the state of a document as read from the store. Version
// increases on every committed write to the ref, including deletes, so a
// delete/recreate pair can never pass a stale version check.
type Snapshot struct {
	Ref     Ref
	Data    []byte
	Version int64
}

// EventKind tags a document lifecycle event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event describes one committed document change. ID is unique per event and
// stable for its delivery. Before is nil on create, After is nil on delete.
type Event struct {
	ID     uuid.UUID
	Kind   EventKind
	Ref    Ref
	Before []byte
	After  []byte
}

// Tx is the view handed to a transaction function. Reads record the version
// of every document touched; the commit is validated against those versions
// and aborted when a read document changed concurrently. Whether a read that
// found no document detects a concurrent create is implementation-defined:
// the memory store aborts, the postgres snapshot cannot see the new row.
// Writes are buffered and become visible atomically on commit, or not at all.
type Tx interface {
	Get(ref Ref) (Snapshot, error)
	Set(ref Ref, data []byte)
	Delete(ref Ref)
}

// Batch accumulates deletes and commits them as one write. Commit fails with
// errs.ErrBatchLimit when the batch exceeds the store's hard per-batch cap.
type Batch interface {
	Delete(ref Ref)
	Len() int
	Commit(ctx context.Context) error
}

// Store is the document store surface consumed by the aggregation engine.
// Query returns documents of a collection whose top-level field equals value,
// ordered by document ID, honoring offset and limit; limit <= 0 means no
// limit.
type Store interface {
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	Set(ctx context.Context, ref Ref, data []byte) error
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, collection, field, value string, offset, limit int) ([]Snapshot, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	NewBatch() Batch
}

// Watcher exposes the change feed of a store. Each subscriber receives every
// event committed after it subscribed.
type Watcher interface {
	Subscribe(buffer int) <-chan Event
}

const (
	// DefaultBatchLimit is the hard cap on operations per batched write.
	DefaultBatchLimit = 500
	// retry schedule for conflicting transactions
	retryAttempts = 8
	retryBase     = 2 * time.Millisecond
)

// Retry re-runs fn while it reports errs.ErrConflict, sleeping with jittered
// exponential backoff between attempts. Any other error, or success, returns
// immediately. Store implementations use it to make conflict retries
// transparent to callers of RunTransaction.
func Retry(ctx context.Context, fn func() error) error {
	backoff := retryBase
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, errs.ErrConflict) {
			return err
		}
		if attempt == retryAttempts-1 {
			return errs.ErrConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff)))):
		}
		backoff *= 2
	}
}

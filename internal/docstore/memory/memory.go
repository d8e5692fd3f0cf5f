package memory

// Package memory provides an in-memory docstore implementation used for
// development and tests. It keeps code paths easy to follow while allowing a
// real database to be plugged in behind the same interface.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/errs"
)

// Store is an in-memory versioned document store. A single mutex guards the
// document maps; the per-ref version counter is monotonic and survives
// deletes, so a delete/recreate pair always fails a stale version check.
type Store struct {
	mu         sync.Mutex
	docs       map[docstore.Ref][]byte
	versions   map[docstore.Ref]int64
	feed       docstore.Feed
	batchLimit int
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithBatchLimit overrides the hard cap on operations per batched write.
func WithBatchLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:       make(map[docstore.Ref][]byte),
		versions:   make(map[docstore.Ref]int64),
		batchLimit: docstore.DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe returns a channel of committed change events, in commit order.
func (s *Store) Subscribe(buffer int) <-chan docstore.Event {
	return s.feed.Subscribe(buffer)
}

// CloseFeed stops the change feed while the store stays writable. Subscribers
// receive the remaining backlog and then their channel closes; later writes
// emit no events. Shutdown closes the feed first so the dispatcher can finish
// its writes, then closes the store.
func (s *Store) CloseFeed() { s.feed.Close() }

// Close stops the change feed and rejects further writes.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.feed.Close()
}

// Get returns the current snapshot of a document.
func (s *Store) Get(_ context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[ref]
	if !ok {
		return docstore.Snapshot{}, errs.ErrNotFound
	}
	return docstore.Snapshot{Ref: ref, Data: bytes.Clone(data), Version: s.versions[ref]}, nil
}

// Set writes a document unconditionally, like an external client would.
func (s *Store) Set(_ context.Context, ref docstore.Ref, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	s.applyLocked([]write{{ref: ref, data: bytes.Clone(data)}})
	return nil
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *Store) Delete(_ context.Context, ref docstore.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	s.applyLocked([]write{{ref: ref}})
	return nil
}

// Query returns documents of a collection whose top-level field equals value,
// ordered by document ID, honoring offset and limit.
func (s *Store) Query(_ context.Context, collection, field, value string, offset, limit int) ([]docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]docstore.Ref, 0)
	for ref, data := range s.docs {
		if ref.Collection != collection {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			continue
		}
		if v, ok := fields[field].(string); ok && v == value {
			matched = append(matched, ref)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]docstore.Snapshot, 0, len(matched))
	for _, ref := range matched {
		out = append(out, docstore.Snapshot{Ref: ref, Data: bytes.Clone(s.docs[ref]), Version: s.versions[ref]})
	}
	return out, nil
}

// RunTransaction runs fn against a consistent view and commits its writes
// atomically. When any document read by fn changed before commit, the
// transaction aborts and is re-run transparently with fresh reads. An error
// returned by fn aborts without retry and without partial effect.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	return docstore.Retry(ctx, func() error {
		tx := &memTx{
			s:      s,
			reads:  make(map[docstore.Ref]int64),
			writes: make(map[docstore.Ref][]byte),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return s.commit(tx)
	})
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	for ref, version := range tx.reads {
		if s.versions[ref] != version {
			return errs.ErrConflict
		}
	}
	writes := make([]write, 0, len(tx.order))
	for _, ref := range tx.order {
		writes = append(writes, write{ref: ref, data: tx.writes[ref]})
	}
	s.applyLocked(writes)
	return nil
}

// NewBatch starts a batched delete.
func (s *Store) NewBatch() docstore.Batch { return &batch{s: s} }

type write struct {
	ref  docstore.Ref
	data []byte // nil means delete
}

// applyLocked commits writes and publishes their events. Caller holds s.mu;
// Feed.Publish never blocks, so publishing under the lock is safe and keeps
// the feed in commit order.
func (s *Store) applyLocked(writes []write) {
	events := make([]docstore.Event, 0, len(writes))
	for _, w := range writes {
		before, existed := s.docs[w.ref]
		if w.data == nil {
			if !existed {
				continue
			}
			delete(s.docs, w.ref)
			s.versions[w.ref]++
			events = append(events, docstore.Event{
				ID:     uuid.New(),
				Kind:   docstore.EventDeleted,
				Ref:    w.ref,
				Before: before,
			})
			continue
		}
		s.docs[w.ref] = w.data
		s.versions[w.ref]++
		kind := docstore.EventUpdated
		if !existed {
			kind = docstore.EventCreated
		}
		events = append(events, docstore.Event{
			ID:     uuid.New(),
			Kind:   kind,
			Ref:    w.ref,
			Before: before,
			After:  bytes.Clone(w.data),
		})
	}
	s.feed.Publish(events)
}

// memTx buffers reads and writes for one transaction attempt.
type memTx struct {
	s      *Store
	reads  map[docstore.Ref]int64
	writes map[docstore.Ref][]byte
	order  []docstore.Ref
}

// Get reads the committed state of a document and records its version,
// absent documents included, so a concurrent create is detected at commit.
func (t *memTx) Get(ref docstore.Ref) (docstore.Snapshot, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = t.s.versions[ref]
	}
	data, ok := t.s.docs[ref]
	if !ok {
		return docstore.Snapshot{}, errs.ErrNotFound
	}
	return docstore.Snapshot{Ref: ref, Data: bytes.Clone(data), Version: t.s.versions[ref]}, nil
}

func (t *memTx) Set(ref docstore.Ref, data []byte) {
	t.stage(ref, bytes.Clone(data))
}

func (t *memTx) Delete(ref docstore.Ref) {
	t.stage(ref, nil)
}

func (t *memTx) stage(ref docstore.Ref, data []byte) {
	if _, seen := t.writes[ref]; !seen {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = data
}

// batch accumulates deletes committed as one atomic write.
type batch struct {
	s    *Store
	refs []docstore.Ref
	done bool
}

func (b *batch) Delete(ref docstore.Ref) { b.refs = append(b.refs, ref) }

func (b *batch) Len() int { return len(b.refs) }

func (b *batch) Commit(_ context.Context) error {
	if b.done {
		return fmt.Errorf("batch already committed")
	}
	if len(b.refs) > b.s.batchLimit {
		return fmt.Errorf("%w: %d ops, limit %d", errs.ErrBatchLimit, len(b.refs), b.s.batchLimit)
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.s.closed {
		return errs.ErrClosed
	}
	writes := make([]write, 0, len(b.refs))
	for _, ref := range b.refs {
		writes = append(writes, write{ref: ref})
	}
	b.s.applyLocked(writes)
	b.done = true
	return nil
}

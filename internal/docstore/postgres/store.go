package postgres

// Package postgres backs the docstore interface with a single jsonb documents
// table over a pgx pool. Optimistic concurrency is enforced by a version
// column bumped on every write; deleted documents keep a NULL-data tombstone
// row so versions stay monotonic across delete/recreate. The change feed is
// emitted client-side after commit, mirroring the store-trigger contract the
// engine is written against.

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/errs"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
// pubMu spans every commit together with its feed publication, so subscribers
// observe same-document events in commit order, matching the memory store's
// publish-under-lock. Row locks are always taken before pubMu and commits
// acquire none, so holding it across commit cannot deadlock.
type Store struct {
	pool       *pgxpool.Pool
	feed       docstore.Feed
	pubMu      sync.Mutex
	batchLimit int
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

// Open establishes a pgx pool using the provided connection string and
// ensures the documents table exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{pool: pool, batchLimit: docstore.DefaultBatchLimit}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create table if not exists documents (
			collection text not null,
			id         text not null,
			data       jsonb,
			version    bigint not null default 1,
			primary key (collection, id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		create index if not exists documents_report_id
		on documents (collection, (data->>'report_id'))`)
	return err
}

// CloseFeed stops the change feed while the pool stays open. Subscribers
// receive the remaining backlog and then their channel closes. Shutdown
// closes the feed first so the dispatcher can finish its writes, then closes
// the store.
func (s *Store) CloseFeed() { s.feed.Close() }

// Close releases the pool and stops the change feed.
func (s *Store) Close() {
	s.feed.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// Subscribe returns a channel of committed change events.
func (s *Store) Subscribe(buffer int) <-chan docstore.Event {
	return s.feed.Subscribe(buffer)
}

// Get returns the current snapshot of a document.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	var (
		data    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, `
		select data, version from documents
		where collection=$1 and id=$2 and data is not null
	`, ref.Collection, ref.ID).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{}, errs.ErrNotFound
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Ref: ref, Data: data, Version: version}, nil
}

// Set writes a document unconditionally, like an external client would.
func (s *Store) Set(ctx context.Context, ref docstore.Ref, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var before []byte
	err = tx.QueryRow(ctx, `
		select data from documents where collection=$1 and id=$2 for update
	`, ref.Collection, ref.ID).Scan(&before)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `
			insert into documents (collection, id, data, version) values ($1,$2,$3,1)
		`, ref.Collection, ref.ID, data); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := tx.Exec(ctx, `
			update documents set data=$3, version=version+1 where collection=$1 and id=$2
		`, ref.Collection, ref.ID, data); err != nil {
			return err
		}
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	kind := docstore.EventUpdated
	if before == nil {
		kind = docstore.EventCreated
	}
	s.feed.Publish([]docstore.Event{{ID: uuid.New(), Kind: kind, Ref: ref, Before: before, After: data}})
	return nil
}

// Delete removes a document, leaving a tombstone row. Deleting an absent
// document is a no-op.
func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var before []byte
	err = tx.QueryRow(ctx, `
		select data from documents where collection=$1 and id=$2 for update
	`, ref.Collection, ref.ID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && before == nil) {
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		update documents set data=null, version=version+1 where collection=$1 and id=$2
	`, ref.Collection, ref.ID); err != nil {
		return err
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.feed.Publish([]docstore.Event{{ID: uuid.New(), Kind: docstore.EventDeleted, Ref: ref, Before: before}})
	return nil
}

// Query returns documents of a collection whose top-level field equals value,
// ordered by document ID, honoring offset and limit.
func (s *Store) Query(ctx context.Context, collection, field, value string, offset, limit int) ([]docstore.Snapshot, error) {
	// limit <= 0 means no limit, same as the memory store.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		select id, data, version from documents
		where collection=$1 and data is not null and data->>$2 = $3
		order by id
		offset $4 limit $5
	`, collection, field, value, offset, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]docstore.Snapshot, 0)
	for rows.Next() {
		var (
			id      string
			data    []byte
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}
		out = append(out, docstore.Snapshot{
			Ref:     docstore.Ref{Collection: collection, ID: id},
			Data:    data,
			Version: version,
		})
	}
	return out, rows.Err()
}

// RunTransaction runs fn in a repeatable-read pg transaction and commits its
// buffered writes with per-document version checks. Serialization failures
// and lost version checks both surface as conflicts and are retried with
// fresh reads, transparently to the caller.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	return docstore.Retry(ctx, func() error {
		return s.attempt(ctx, fn)
	})
}

type readState struct {
	data    []byte
	version int64
}

type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	reads  map[docstore.Ref]readState
	writes map[docstore.Ref][]byte
	order  []docstore.Ref
	err    error
}

func (s *Store) attempt(ctx context.Context, fn func(tx docstore.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	view := &pgTx{
		ctx:    ctx,
		tx:     tx,
		reads:  make(map[docstore.Ref]readState),
		writes: make(map[docstore.Ref][]byte),
	}
	if err := fn(view); err != nil {
		return err
	}
	if view.err != nil {
		return conflictOr(view.err)
	}
	events, err := s.flush(view)
	if err != nil {
		return conflictOr(err)
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if err := tx.Commit(ctx); err != nil {
		return conflictOr(err)
	}
	s.feed.Publish(events)
	return nil
}

// flush applies the buffered writes with version guards and then locks the
// read-only documents to validate them. A write guard that matches zero rows
// means a concurrent writer got there first.
func (s *Store) flush(view *pgTx) ([]docstore.Event, error) {
	events := make([]docstore.Event, 0, len(view.order))
	for _, ref := range view.order {
		data := view.writes[ref]
		read, wasRead := view.reads[ref]
		if !wasRead {
			if _, err := view.Get(ref); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return nil, err
			}
			read = view.reads[ref]
		}
		switch {
		case data == nil && read.data == nil:
			// Delete of an absent document: nothing to do.
		case data == nil:
			ct, err := view.tx.Exec(view.ctx, `
				update documents set data=null, version=version+1
				where collection=$1 and id=$2 and version=$3
			`, ref.Collection, ref.ID, read.version)
			if err != nil {
				return nil, err
			}
			if ct.RowsAffected() == 0 {
				return nil, errs.ErrConflict
			}
			events = append(events, docstore.Event{ID: uuid.New(), Kind: docstore.EventDeleted, Ref: ref, Before: read.data})
		case read.version == 0:
			ct, err := view.tx.Exec(view.ctx, `
				insert into documents (collection, id, data, version) values ($1,$2,$3,1)
				on conflict (collection, id) do nothing
			`, ref.Collection, ref.ID, data)
			if err != nil {
				return nil, err
			}
			if ct.RowsAffected() == 0 {
				return nil, errs.ErrConflict
			}
			events = append(events, docstore.Event{ID: uuid.New(), Kind: docstore.EventCreated, Ref: ref, After: data})
		default:
			ct, err := view.tx.Exec(view.ctx, `
				update documents set data=$3, version=version+1
				where collection=$1 and id=$2 and version=$4
			`, ref.Collection, ref.ID, data, read.version)
			if err != nil {
				return nil, err
			}
			if ct.RowsAffected() == 0 {
				return nil, errs.ErrConflict
			}
			kind := docstore.EventUpdated
			if read.data == nil {
				kind = docstore.EventCreated
			}
			events = append(events, docstore.Event{ID: uuid.New(), Kind: kind, Ref: ref, Before: read.data, After: data})
		}
	}
	// Documents read but not written are locked here so a concurrent update
	// surfaces as a serialization failure. A read that found no row cannot be
	// revalidated: the repeatable-read snapshot never sees a concurrent
	// create.
	for ref, read := range view.reads {
		if _, written := view.writes[ref]; written {
			continue
		}
		if read.version == 0 {
			continue
		}
		var version int64
		if err := view.tx.QueryRow(view.ctx, `
			select version from documents where collection=$1 and id=$2 for update
		`, ref.Collection, ref.ID).Scan(&version); err != nil {
			return nil, err
		}
		if version != read.version {
			return nil, errs.ErrConflict
		}
	}
	return events, nil
}

// Get reads a document inside the transaction's snapshot and records its
// version, tombstones and absent documents included.
func (t *pgTx) Get(ref docstore.Ref) (docstore.Snapshot, error) {
	if read, ok := t.reads[ref]; ok {
		if read.data == nil {
			return docstore.Snapshot{}, errs.ErrNotFound
		}
		return docstore.Snapshot{Ref: ref, Data: read.data, Version: read.version}, nil
	}
	var (
		data    []byte
		version int64
	)
	err := t.tx.QueryRow(t.ctx, `
		select data, version from documents where collection=$1 and id=$2
	`, ref.Collection, ref.ID).Scan(&data, &version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		t.reads[ref] = readState{}
		return docstore.Snapshot{}, errs.ErrNotFound
	case err != nil:
		t.err = err
		return docstore.Snapshot{}, err
	}
	t.reads[ref] = readState{data: data, version: version}
	if data == nil {
		return docstore.Snapshot{}, errs.ErrNotFound
	}
	return docstore.Snapshot{Ref: ref, Data: data, Version: version}, nil
}

func (t *pgTx) Set(ref docstore.Ref, data []byte) { t.stage(ref, data) }

func (t *pgTx) Delete(ref docstore.Ref) { t.stage(ref, nil) }

func (t *pgTx) stage(ref docstore.Ref, data []byte) {
	if _, seen := t.writes[ref]; !seen {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = data
}

// NewBatch starts a batched delete committed via a single pgx batch.
func (s *Store) NewBatch() docstore.Batch { return &pgBatch{s: s} }

type pgBatch struct {
	s    *Store
	refs []docstore.Ref
	done bool
}

func (b *pgBatch) Delete(ref docstore.Ref) { b.refs = append(b.refs, ref) }

func (b *pgBatch) Len() int { return len(b.refs) }

func (b *pgBatch) Commit(ctx context.Context) error {
	if b.done {
		return errors.New("batch already committed")
	}
	if len(b.refs) > b.s.batchLimit {
		return errs.ErrBatchLimit
	}
	tx, err := b.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	batch := &pgx.Batch{}
	for _, ref := range b.refs {
		batch.Queue(`
			update documents set data=null, version=version+1
			where collection=$1 and id=$2 and data is not null
			returning data
		`, ref.Collection, ref.ID)
	}
	results := tx.SendBatch(ctx, batch)
	events := make([]docstore.Event, 0, len(b.refs))
	for _, ref := range b.refs {
		var before []byte
		err := results.QueryRow().Scan(&before)
		if errors.Is(err, pgx.ErrNoRows) {
			// Already gone; a racing delete won.
			continue
		}
		if err != nil {
			_ = results.Close()
			return err
		}
		events = append(events, docstore.Event{ID: uuid.New(), Kind: docstore.EventDeleted, Ref: ref, Before: before})
	}
	if err := results.Close(); err != nil {
		return err
	}
	b.s.pubMu.Lock()
	defer b.s.pubMu.Unlock()
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.s.feed.Publish(events)
	b.done = true
	return nil
}

// conflictOr maps serialization failures to the conflict sentinel so the
// retry loop re-runs the transaction; anything else passes through.
func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return errs.ErrConflict
	}
	return err
}

// Compile-time conformance checks.
var (
	_ docstore.Store   = (*Store)(nil)
	_ docstore.Watcher = (*Store)(nil)
)

// Package cascade removes every expense document referencing a deleted
// report, in write batches bounded strictly below the store's per-batch cap.
// It never touches report totals: the report is already gone when it runs.
package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinoosan/tally/internal/docstore"
	"github.com/tinoosan/tally/internal/reports"
)

const (
	defaultPageSize = 100
	// defaultThreshold stays below docstore.DefaultBatchLimit so a batch can
	// never hit the store's hard cap.
	defaultThreshold = 499
)

// Service deletes the dependent expenses of a removed report.
type Service interface {
	Run(ctx context.Context, reportID uuid.UUID) error
}

type service struct {
	store     docstore.Store
	log       *slog.Logger
	pageSize  int
	threshold int
}

// Option configures the coordinator.
type Option func(*service)

// WithPageSize overrides the query page size.
func WithPageSize(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithBatchThreshold overrides the commit threshold. It must stay strictly
// below the store's per-batch cap.
func WithBatchThreshold(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// New constructs the cascade deletion coordinator.
func New(store docstore.Store, log *slog.Logger, opts ...Option) Service {
	s := &service{store: store, log: log, pageSize: defaultPageSize, threshold: defaultThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run pages through the expenses referencing reportID and deletes them in
// bounded batches. A failed batch commit aborts the whole run; re-running is
// safe because deletes are idempotent and simply find fewer documents.
func (s *service) Run(ctx context.Context, reportID uuid.UUID) error {
	batch := s.store.NewBatch()
	deleted, commits := 0, 0
	for {
		// The query offset equals the number of deletes enqueued but not yet
		// committed. Those documents are still visible and, because pages
		// walk the ID order from the front, always occupy the first
		// positions; skipping exactly that many never misses a document even
		// when a batch commits mid-pagination.
		page, err := s.store.Query(ctx, reports.CollectionExpenses, "report_id", reportID.String(), batch.Len(), s.pageSize)
		if err != nil {
			return fmt.Errorf("cascade report %s: query expenses: %w", reportID, err)
		}
		for _, snap := range page {
			batch.Delete(snap.Ref)
			if batch.Len() >= s.threshold {
				n := batch.Len()
				if err := batch.Commit(ctx); err != nil {
					return fmt.Errorf("cascade report %s: commit batch of %d: %w", reportID, n, err)
				}
				deleted += n
				commits++
				batchesTotal.Inc()
				deletesTotal.Add(float64(n))
				batch = s.store.NewBatch()
			}
		}
		if len(page) < s.pageSize {
			break
		}
	}
	if batch.Len() > 0 {
		n := batch.Len()
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("cascade report %s: commit final batch of %d: %w", reportID, n, err)
		}
		deleted += n
		commits++
		batchesTotal.Inc()
		deletesTotal.Add(float64(n))
	}
	s.log.Info("cascade delete complete", "report_id", reportID, "deleted", deleted, "batches", commits)
	return nil
}

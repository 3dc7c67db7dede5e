package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// JobProgressWriter is the slice of store.JobRepository the sink needs.
type JobProgressWriter interface {
	UpdateJobProgress(ctx context.Context, jobID int64, p store.JobProgress) error
}

// StoreSink persists review ingest progress to the jobs table. Only the last
// review page per job in a batch is written.
type StoreSink struct {
	repo   JobProgressWriter
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo JobProgressWriter, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses review page events per job and writes them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[int64]progress.Event)
	order := make([]int64, 0)
	for _, evt := range batch {
		if evt.JobID <= 0 {
			continue
		}
		switch {
		case evt.Stage == progress.StageReviewPage:
			if _, seen := latest[evt.JobID]; !seen {
				order = append(order, evt.JobID)
			}
			latest[evt.JobID] = evt
		case evt.Stage == progress.StageRunError && evt.Kind == progress.KindReviews:
			msg := evt.Message
			if err := s.repo.UpdateJobProgress(ctx, evt.JobID, store.JobProgress{
				Status:  store.JobError,
				Message: &msg,
			}); err != nil {
				return fmt.Errorf("record job error: %w", err)
			}
			delete(latest, evt.JobID)
		}
	}
	for _, jobID := range order {
		evt, ok := latest[jobID]
		if !ok {
			continue
		}
		msg, current, total, count := evt.Message, evt.CurrentPage, evt.TotalPages, evt.Count
		err := s.repo.UpdateJobProgress(ctx, jobID, store.JobProgress{
			Status:         store.JobScrapingReviews,
			Message:        &msg,
			CurrentPage:    &current,
			TotalPages:     &total,
			ReviewsScraped: &count,
		})
		if err != nil {
			return fmt.Errorf("update job progress: %w", err)
		}
		s.logger.Debug("job progress persisted", zap.Int64("job_id", jobID), zap.Int("current_page", current))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

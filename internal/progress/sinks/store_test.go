package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

func TestStoreSinkKeepsLatestReviewPage(t *testing.T) {
	t.Parallel()

	repo := &fakeJobWriter{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageReviewPage, Kind: progress.KindReviews, JobID: 9,
			Message: "Scraping page 1", CurrentPage: 1, TotalPages: 5, Count: 10},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Site: "store.com", StatusClass: progress.Status2xx},
		{RunID: runID, TS: now, Stage: progress.StageReviewPage, Kind: progress.KindReviews, JobID: 9,
			Message: "Scraping page 2", CurrentPage: 2, TotalPages: 5, Count: 20},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.calls, 1)
	call := repo.calls[0]
	require.Equal(t, int64(9), call.jobID)
	require.Equal(t, store.JobScrapingReviews, call.p.Status)
	require.Equal(t, 2, *call.p.CurrentPage)
	require.Equal(t, 20, *call.p.ReviewsScraped)
	require.Equal(t, "Scraping page 2", *call.p.Message)
}

func TestStoreSinkRecordsReviewRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeJobWriter{}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunError,
		Kind: progress.KindReviews, JobID: 4, Message: "listing returned 503",
	}})
	require.NoError(t, err)
	require.Len(t, repo.calls, 1)
	require.Equal(t, store.JobError, repo.calls[0].p.Status)
}

func TestStoreSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeJobWriter{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageReviewPage, JobID: 1,
	}})
	require.Error(t, err)
}

type jobCall struct {
	jobID int64
	p     store.JobProgress
}

type fakeJobWriter struct {
	fail  bool
	calls []jobCall
}

func (f *fakeJobWriter) UpdateJobProgress(_ context.Context, jobID int64, p store.JobProgress) error {
	if f.fail {
		return errors.New("db down")
	}
	f.calls = append(f.calls, jobCall{jobID: jobID, p: p})
	return nil
}

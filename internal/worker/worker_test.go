package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/id/uuid"
	pubmemory "github.com/JakeFAU/storefront-contact-crawler/internal/publisher/memory"
	"github.com/JakeFAU/storefront-contact-crawler/internal/relevance"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/memory"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type fakeCrawler struct {
	result crawler.Result
	err    error
	calls  int
}

func (f *fakeCrawler) Crawl(_ context.Context, baseURL string, _ [16]byte) (crawler.Result, error) {
	f.calls++
	res := f.result
	res.BaseURL = baseURL
	return res, f.err
}

type inventingFilter struct{}

func (inventingFilter) Filter(_ context.Context, raw []string, _, _ string) relevance.Result {
	return relevance.Result{Primary: append([]string{"invented@store.com"}, raw...)}
}

func newRepoWithStore(t *testing.T, url string) (*memory.Repository, int64) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRepository(&fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)})
	job, err := repo.CreateJob(ctx, "reviews-app", "https://apps.shopify.com/reviews-app/reviews", 0, 0)
	require.NoError(t, err)
	_, err = repo.InsertStores(ctx, job.ID, "reviews-app", []store.NewStore{{Name: "Acme", Country: "US"}})
	require.NoError(t, err)
	if url != "" {
		require.NoError(t, repo.SetManualURL(ctx, 1, url))
	}
	return repo, 1
}

func newEmailJob(repo EmailRepository, c Crawler, filter RelevanceFilter, pub Publisher) *EmailJob {
	return NewEmailJob(repo, c, filter, uuid.NewUUIDGenerator(), pub,
		&fixedClock{now: time.Unix(0, 0)}, EmailConfig{Topic: "stores"}, zap.NewNop())
}

func TestEmailJobStoresRelevantEmailsAndPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{result: crawler.Result{RawEmails: []string{"sales@store.com", "ceo@other.com"}}}
	pub := pubmemory.New()

	require.NoError(t, newEmailJob(repo, c, relevance.New(), pub).Process(ctx, id))

	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusEmailsFound, st.Status)
	require.Equal(t, []string{"sales@store.com"}, st.Emails)
	require.Equal(t, []string{"sales@store.com", "ceo@other.com"}, st.RawEmails)

	msgs := pub.Topic("stores")
	require.Len(t, msgs, 1)
	evt, ok := msgs[0].(StoreCompleted)
	require.True(t, ok)
	require.Equal(t, store.StatusEmailsFound, evt.Status)
	require.Equal(t, "Acme", evt.StoreName)
	require.Equal(t, CompletedEvent, evt.EventType())
}

func TestEmailJobRejectsAddressesOutsideRawSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{result: crawler.Result{RawEmails: []string{"sales@store.com"}}}

	require.NoError(t, newEmailJob(repo, c, inventingFilter{}, nil).Process(ctx, id))

	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"sales@store.com"}, st.Emails)
}

func TestEmailJobFailuresBecomePermanent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{result: crawler.Result{
		Error: "All 27 pages failed",
		Stats: crawler.Stats{PagesDiscovered: 27, PagesFailed: 27, CircuitOpen: true},
	}}
	pub := pubmemory.New()
	job := newEmailJob(repo, c, relevance.New(), pub)

	for range 2 {
		require.NoError(t, job.Process(ctx, id))
		st, err := repo.GetStore(ctx, id)
		require.NoError(t, err)
		require.Equal(t, store.StatusScrapeFailed, st.Status)
		require.Equal(t, "rate_limited: All 27 pages failed", st.LastError)
	}
	require.NoError(t, job.Process(ctx, id))
	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusPermanentFailure, st.Status)
	require.Equal(t, 3, st.EmailAttempts)
	require.Empty(t, pub.Messages())
}

func TestEmailJobPartialEmailsKeepFailureStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{result: crawler.Result{
		RawEmails: []string{"sales@store.com"},
		Error:     "All 3 pages failed",
	}}

	require.NoError(t, newEmailJob(repo, c, relevance.New(), nil).Process(ctx, id))

	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusScrapeFailed, st.Status)
	require.Equal(t, []string{"sales@store.com"}, st.Emails)
}

func TestEmailJobSkipsClaimedStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	_, err := repo.Claim(ctx, id, time.Hour)
	require.NoError(t, err)
	c := &fakeCrawler{}

	require.NoError(t, newEmailJob(repo, c, relevance.New(), nil).Process(ctx, id))
	require.Zero(t, c.calls)
}

func TestEmailJobStoppedCrawlReleasesClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{err: crawler.ErrStopped}

	err := newEmailJob(repo, c, relevance.New(), nil).Process(ctx, id)
	require.ErrorIs(t, err, crawler.ErrStopped)

	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusURLVerified, st.Status)
}

func TestEmailJobBadURLIsRecordedAsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	c := &fakeCrawler{err: errors.New("discover: parse base url")}

	require.NoError(t, newEmailJob(repo, c, relevance.New(), nil).Process(ctx, id))

	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusScrapeFailed, st.Status)
	require.Contains(t, st.LastError, "invalid_url")
}

func TestEmailJobPendingListsStoresWithURLs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "https://store.com")
	job := newEmailJob(repo, &fakeCrawler{}, relevance.New(), nil)

	got, err := job.Pending(ctx, 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].ID)

	got, err = job.Pending(ctx, 5, []int64{id})
	require.NoError(t, err)
	require.Empty(t, got)
}

type recordingResolver struct {
	repo   URLRepository
	err    error
	called int
}

func (r *recordingResolver) Process(ctx context.Context, st store.Store) (resolver.Decision, error) {
	r.called++
	if r.err != nil {
		return resolver.Decision{}, r.err
	}
	out := store.URLOutcome{Status: store.StatusNeedsReview, URL: "https://acme.com", Confidence: 0.55, Provider: "fake"}
	if err := r.repo.SaveURLResult(ctx, st.ID, out); err != nil {
		return resolver.Decision{}, err
	}
	return resolver.Decision{Action: resolver.ActionNeedsReview, Outcome: out}, nil
}

func TestURLJobResolvesAndReleases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "")
	r := &recordingResolver{repo: repo}
	job := NewURLJob(repo, r, URLConfig{}, zap.NewNop())

	pending, err := job.Pending(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, job.Process(ctx, id))
	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusNeedsReview, st.Status)
	require.Equal(t, 1, st.URLAttempts)
}

func TestURLJobWriteFailureRestoresPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, id := newRepoWithStore(t, "")
	r := &recordingResolver{repo: repo, err: errors.New("db down")}
	job := NewURLJob(repo, r, URLConfig{MaxAttempts: 2}, zap.NewNop())

	require.ErrorContains(t, job.Process(ctx, id), "db down")
	st, err := repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusPendingURL, st.Status)

	require.Error(t, job.Process(ctx, id))
	require.NoError(t, job.Process(ctx, id))
	require.Equal(t, 2, r.called)

	st, err = repo.GetStore(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusNotFound, st.Status)
	require.Equal(t, "Exceeded 2 resolution attempts", st.LastError)
}

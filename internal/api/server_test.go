package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/dispatcher"
	"github.com/JakeFAU/storefront-contact-crawler/internal/export"
	"github.com/JakeFAU/storefront-contact-crawler/internal/reviews"
	"github.com/JakeFAU/storefront-contact-crawler/internal/storage/memory"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakePool struct {
	mu       sync.Mutex
	name     string
	running  bool
	admitted int
	pending  int
	active   []int64
}

func (p *fakePool) StartBatch(context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	n := p.pending
	p.admitted += n
	p.pending = 0
	return n
}

func (p *fakePool) TryAdmit(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return false, nil
	}
	p.pending--
	p.admitted++
	return true, nil
}

func (p *fakePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

func (p *fakePool) Status() dispatcher.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dispatcher.Status{Name: p.name, Running: p.running, Capacity: 10, ActiveIDs: p.active}
}

// urlResolverFunc marks a store verified, standing in for the URL worker.
type urlResolverFunc func(ctx context.Context, id int64) error

func (f urlResolverFunc) Process(ctx context.Context, id int64) error { return f(ctx, id) }

type fakeIngester struct {
	mu        sync.Mutex
	requests  []reviews.Request
	done      chan struct{}
	completed map[int64]int
}

func (f *fakeIngester) Ingest(_ context.Context, req reviews.Request) (reviews.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	close(f.done)
	return reviews.Outcome{Inserted: 1}, nil
}

func (f *fakeIngester) Complete(_ context.Context, jobID int64, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = processed
	return nil
}

type fixture struct {
	repo      *memory.Repository
	blobs     *memory.BlobStore
	emailPool *fakePool
	urlPool   *fakePool
	ingester  *fakeIngester
	server    *Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.NewRepository(clock)
	blobs := memory.NewBlobStore()
	f := &fixture{
		repo:      repo,
		blobs:     blobs,
		emailPool: &fakePool{name: "email", pending: 2},
		urlPool:   &fakePool{name: "url"},
		ingester:  &fakeIngester{done: make(chan struct{}), completed: map[int64]int{}},
	}
	f.server = NewServer(Deps{
		Repo:      repo,
		EmailPool: f.emailPool,
		URLPool:   f.urlPool,
		URLJob: urlResolverFunc(func(ctx context.Context, id int64) error {
			return repo.SaveURLResult(ctx, id, store.URLOutcome{
				Status:     store.StatusURLVerified,
				URL:        "https://resolved.example",
				Confidence: 0.9,
				Provider:   "fake",
			})
		}),
		Ingester: f.ingester,
		Exporter: export.New(repo, blobs, clock),
		Clock:    clock,
	}, opts, zap.NewNop())
	return f
}

func (f *fixture) seed(t *testing.T, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	job, err := f.repo.CreateJob(ctx, "Judge.me", "https://apps.shopify.com/judgeme/reviews", 0, 0)
	require.NoError(t, err)
	rows := make([]store.NewStore, 0, len(names))
	for _, n := range names {
		rows = append(rows, store.NewStore{Name: n, Country: "US"})
	}
	_, err = f.repo.InsertStores(ctx, job.ID, "Judge.me", rows)
	require.NoError(t, err)
	stores, err := f.repo.ListStores(ctx, store.StoreFilter{})
	require.NoError(t, err)
	ids := make([]int64, 0, len(stores))
	for _, st := range stores {
		ids = append(ids, st.ID)
	}
	return ids
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{AuthEnabled: true, APIKey: "secret"})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/stores", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/stores?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/statistics", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListAndGetStores(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ids := f.seed(t, "Alpha", "Beta", "Gamma")

	rec := f.do(t, http.MethodGet, "/v1/stores?app=Judge.me&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Stores []store.Store `json:"stores"`
		Count  int           `json:"count"`
	}](t, rec)
	require.Equal(t, 2, list.Count)
	require.Equal(t, "Alpha", list.Stores[0].Name)

	rec = f.do(t, http.MethodGet, "/v1/stores/"+itoa(ids[1]), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"store_name":"Beta"`)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/stores/999", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/stores/abc", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/stores?status=bogus", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/stores?limit=-1", "").Code)
}

func TestServer_ManualOverrides(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ids := f.seed(t, "Alpha", "Beta", "Gamma")
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/v1/stores/"+itoa(ids[0])+"/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st, err := f.repo.GetStore(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, store.StatusSkipped, st.Status)

	rec = f.do(t, http.MethodPut, "/v1/stores/"+itoa(ids[1])+"/url", `{"url":"https://beta.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st, err = f.repo.GetStore(ctx, ids[1])
	require.NoError(t, err)
	require.Equal(t, store.StatusURLVerified, st.Status)
	require.Equal(t, "https://beta.example", st.URL)

	require.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/stores/"+itoa(ids[1])+"/url", `{"url":""}`).Code)
	require.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/stores/"+itoa(ids[1])+"/url", `{"link":"x"}`).Code)

	rec = f.do(t, http.MethodPut, "/v1/stores/"+itoa(ids[2])+"/emails", `{"emails":["hi@gamma.example"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st, err = f.repo.GetStore(ctx, ids[2])
	require.NoError(t, err)
	require.Equal(t, store.StatusEmailsFound, st.Status)
	require.Equal(t, []string{"hi@gamma.example"}, st.Emails)
}

func TestServer_ReviewSelect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ids := f.seed(t, "Alpha")
	ctx := context.Background()
	require.NoError(t, f.repo.SaveURLResult(ctx, ids[0], store.URLOutcome{
		Status:     store.StatusNeedsReview,
		URL:        "https://a.example",
		Confidence: 0.4,
		Candidates: []string{"https://a.example", "https://alpha.example"},
	}))

	rec := f.do(t, http.MethodGet, "/v1/queues/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)

	rec = f.do(t, http.MethodPost, "/v1/stores/"+itoa(ids[0])+"/review-select", `{"index":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://alpha.example")

	rec = f.do(t, http.MethodPost, "/v1/stores/"+itoa(ids[0])+"/review-select", `{"index":7}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteStores(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ids := f.seed(t, "Alpha", "Beta")

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/stores/delete", `{"store_ids":[]}`).Code)

	rec := f.do(t, http.MethodPost, "/v1/stores/delete", `{"store_ids":[`+itoa(ids[0])+`]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[store.DeleteResult](t, rec)
	require.Equal(t, 1, res.StoresDeleted)

	_, err := f.repo.GetStore(context.Background(), ids[0])
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestServer_EmailPoolControls(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/v1/email-scraping/start-next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"started":true`)

	rec = f.do(t, http.MethodPost, "/v1/email-scraping/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"started":1`)
	require.Equal(t, 2, f.emailPool.admitted)

	rec = f.do(t, http.MethodGet, "/v1/email-scraping/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[dispatcher.Status](t, rec)
	require.True(t, status.Running)

	rec = f.do(t, http.MethodPost, "/v1/email-scraping/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, f.emailPool.Status().Running)
}

func TestServer_URLProcessOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ids := f.seed(t, "Alpha", "Beta")
	f.urlPool.active = []int64{ids[0]}

	rec := f.do(t, http.MethodPost, "/v1/url-finding/process-one", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[struct {
		Processed bool        `json:"processed"`
		Store     store.Store `json:"store"`
	}](t, rec)
	require.True(t, out.Processed)
	require.Equal(t, ids[1], out.Store.ID, "store held by the pool is skipped")
	require.Equal(t, store.StatusURLVerified, out.Store.Status)

	rec = f.do(t, http.MethodPost, "/v1/url-finding/process-one", `{"store_id":`+itoa(ids[0])+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/url-finding/process-one", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"processed":false`)
}

func TestServer_SubmitJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"app_url":"notaurl"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/jobs", `{"app_url":"https://apps.shopify.com/klaviyo/reviews","max_pages":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-f.ingester.done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest was not started")
	}
	f.ingester.mu.Lock()
	defer f.ingester.mu.Unlock()
	require.Len(t, f.ingester.requests, 1)
	require.Equal(t, 2, f.ingester.requests[0].MaxPages)
}

func TestServer_SubmitJobRejectsCompletedListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ctx := context.Background()
	job, err := f.repo.CreateJob(ctx, "Klaviyo", "https://apps.shopify.com/klaviyo/reviews", 0, 0)
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateJobProgress(ctx, job.ID, store.JobProgress{Status: store.JobCompleted}))

	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"app_url":"https://apps.shopify.com/klaviyo/reviews"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_JobsAndStatistics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed(t, "Alpha", "Beta")

	rec := f.do(t, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decodeBody[struct {
		Jobs []store.Job `json:"jobs"`
	}](t, rec)
	require.Len(t, jobs.Jobs, 1)

	jobID := jobs.Jobs[0].ID
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/jobs/"+itoa(jobID), "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/jobs/404", "").Code)

	rec = f.do(t, http.MethodPost, "/v1/jobs/"+itoa(jobID)+"/complete", `{"stores_processed":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, f.ingester.completed[jobID])

	rec = f.do(t, http.MethodGet, "/v1/statistics?app=Judge.me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[store.Statistics](t, rec)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.PendingURL)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed(t, "Alpha", "Beta")

	rec := f.do(t, http.MethodGet, "/v1/export?format=csv&app=Judge.me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "2", rec.Header().Get("X-Export-Rows"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "stores_")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/export?format=pdf", "").Code)

	rec = f.do(t, http.MethodPost, "/v1/export?format=xlsx", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decodeBody[export.Result](t, rec)
	require.Equal(t, 2, res.Rows)
	_, contentType, ok := f.blobs.Object(res.Name)
	require.True(t, ok)
	require.Equal(t, export.FormatXLSX.ContentType(), contentType)
}

func TestServer_UnavailableCollaborators(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository(fakeClock{now: time.Unix(0, 0)})
	server := NewServer(Deps{Repo: repo}, Options{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/email-scraping/start"},
		{http.MethodGet, "/v1/url-finding/status"},
		{http.MethodPost, "/v1/url-finding/process-one"},
		{http.MethodPost, "/v1/jobs"},
		{http.MethodGet, "/v1/export"},
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id) //nolint:errcheck // int64 always marshals
	return string(b)
}

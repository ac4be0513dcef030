package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	"github.com/JakeFAU/listing-crawler/internal/notify"
	queueMemory "github.com/JakeFAU/listing-crawler/internal/queue/memory"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
)

type testEnv struct {
	store  *memory.ResultStore
	blobs  *memory.BlobStore
	queue  *queueMemory.Queue
	server *Server
}

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			MinTarget:       3,
			MaxTarget:       100,
			DefaultSortMode: "hot",
		},
		Storage: config.StorageConfig{Prefix: "reports"},
	}
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Unix(100, 0).UTC()}
	env := &testEnv{
		store: memory.NewResultStore(clock),
		blobs: memory.NewBlobStore(),
		queue: queueMemory.NewQueue(10),
	}
	if len(ids) == 0 {
		ids = []string{"crawl-1"}
	}
	registry := notify.NewRegistry(map[string]string{"alice": "alice@example.com"})
	env.server = NewServer(
		env.store,
		env.blobs,
		dispatcher.New(env.queue, nil),
		registry,
		&fakeIDGen{ids: ids},
		clock,
		cfg,
		zap.NewNop(),
	)
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"source":"memes","sort_mode":"top","target_count":20,"recipient":"alice"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "crawl-1", resp["crawl_id"])

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "crawl-1", item.JobID)
	require.Equal(t, crawler.JobParameters{
		Request:   crawler.Request{Source: "memes", SortMode: "top", TargetCount: 20},
		Recipient: "alice",
	}, item.Params)

	job, err := env.store.GetJob(context.Background(), "crawl-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
}

func TestServer_SubmitCrawl_DefaultsSortMode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"source":"pics","target_count":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hot", item.Params.SortMode)
}

func TestServer_SubmitCrawl_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"missing target", `{"source":"memes"}`, "target_count is required"},
		{"fractional target", `{"source":"memes","target_count":3.5}`, "must be an integer"},
		{"below range", `{"source":"memes","target_count":2}`, "between 3 and 100"},
		{"above range", `{"source":"memes","target_count":101}`, "between 3 and 100"},
		{"bad source", `{"source":"no spaces","target_count":5}`, "invalid crawl request"},
		{"bad sort", `{"source":"memes","sort_mode":"sideways","target_count":5}`, "invalid crawl request"},
		{"unknown recipient", `{"source":"memes","target_count":5,"recipient":"mallory"}`, "unknown recipient"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, testConfig())
			rec := env.do(http.MethodPost, "/v1/crawls", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestServer_SubmitCrawl_QueueClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.queue.Close()
	rec := env.do(http.MethodPost, "/v1/crawls", `{"source":"memes","target_count":5}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := env.store.GetJob(context.Background(), "crawl-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "queue closed")
}

func TestServer_SubmitCrawl_IDFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.server.idGen = &fakeIDGen{err: errors.New("entropy exhausted")}
	rec := env.do(http.MethodPost, "/v1/crawls", `{"source":"memes","target_count":5}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetCrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	require.NoError(t, env.store.CreateJob(context.Background(), crawler.Job{ID: "c1", Status: crawler.JobStatusSucceeded}))

	rec := env.do(http.MethodGet, "/v1/crawls/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")

	rec = env.do(http.MethodGet, "/v1/crawls/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetRecords(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	require.NoError(t, env.store.CreateJob(ctx, crawler.Job{ID: "done", Status: crawler.JobStatusSucceeded}))
	require.NoError(t, env.store.SaveResult(ctx, crawler.CrawlResult{
		CrawlID: "done",
		Records: []crawler.Record{{ID: "t3_a", Title: "A"}},
	}))
	require.NoError(t, env.store.CreateJob(ctx, crawler.Job{ID: "pending", Status: crawler.JobStatusQueued}))

	rec := env.do(http.MethodGet, "/v1/crawls/done/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Records []crawler.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	require.Equal(t, "t3_a", resp.Records[0].ID)

	rec = env.do(http.MethodGet, "/v1/crawls/pending/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"records":[]`)
}

func TestServer_GetReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	params := crawler.JobParameters{Request: crawler.Request{Source: "memes", SortMode: "top", TargetCount: 5}}
	require.NoError(t, env.store.CreateJob(ctx, crawler.Job{ID: "c1", Parameters: params}))
	uri, err := env.blobs.PutObject(ctx, "reports/memes_top_c1.html", "text/html", bytes.NewReader([]byte("<html>report</html>")))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/v1/crawls/c1/report", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.store.UpdateJobStatus(ctx, "c1", crawler.JobUpdate{Status: crawler.JobStatusSucceeded, ReportURI: uri}))
	rec = env.do(http.MethodGet, "/v1/crawls/c1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<html>report</html>", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	env.do(http.MethodGet, "/v1/crawls/missing", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ReadyzReportsStoreOutage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.server.store = &pingingStore{ResultStore: env.store, err: errors.New("db down")}
	require.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(t, cfg)
	require.NoError(t, env.store.CreateJob(context.Background(), crawler.Job{ID: "c1"}))

	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/crawls/c1", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/crawls/c1?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/c1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	const inbound = "0190a0c4-1234-7abc-8def-0123456789ab"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", inbound)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, inbound, seen)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type pingingStore struct {
	*memory.ResultStore
	err error
}

func (s *pingingStore) Ping(context.Context) error {
	return s.err
}

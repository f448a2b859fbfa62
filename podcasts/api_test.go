package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/news-fetcher/podcast-api/internal/blobrange"
	"github.com/news-fetcher/podcast-api/internal/ci"
	"github.com/news-fetcher/podcast-api/internal/correlate"
	"github.com/news-fetcher/podcast-api/internal/domain"
	"github.com/news-fetcher/podcast-api/internal/platform/httpserver"
	"github.com/news-fetcher/podcast-api/internal/repo"
	"github.com/news-fetcher/podcast-api/internal/service/episodes"
	"github.com/news-fetcher/podcast-api/internal/service/jobs"
	"github.com/news-fetcher/podcast-api/internal/storage/objectstore"
)

type memSource struct {
	objects map[string][]byte
	opened  int
}

func (m *memSource) Stat(_ context.Context, _ string, key string) (objectstore.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memSource) GetRange(_ context.Context, _ string, key string, start, end int64) (io.ReadCloser, error) {
	m.opened++
	data := m.objects[key]
	if start < 0 {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

type fakeCI struct {
	mu         sync.Mutex
	nextID     int64
	runs       []domain.RemoteRun
	dispatches []ci.DispatchInput
	err        error
}

func (f *fakeCI) Workflow() string { return "News-Fetcher/news-fetcher/python-app.yml" }

func (f *fakeCI) Dispatch(_ context.Context, in ci.DispatchInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatches = append(f.dispatches, in)
	f.nextID++
	f.runs = append([]domain.RemoteRun{{
		ID:        f.nextID,
		Name:      "Python application",
		Status:    domain.RunStatusQueued,
		Event:     domain.EventWorkflowDispatch,
		CreatedAt: time.Now().UTC(),
	}}, f.runs...)
	return nil
}

func (f *fakeCI) ListRuns(_ context.Context, limit int) ([]domain.RemoteRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.RemoteRun(nil), f.runs...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRegistry struct {
	mu     sync.Mutex
	labels map[int64]string
}

func (r *memRegistry) AllRunLabels(context.Context) (map[int64]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]string, len(r.labels))
	for k, v := range r.labels {
		out[k] = v
	}
	return out, nil
}

func (r *memRegistry) UpsertRunLabel(_ context.Context, runID int64, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[runID] = label
	return nil
}

type stubEpisodes struct {
	episodes []domain.Episode
}

func (s *stubEpisodes) ListEpisodes(context.Context) ([]domain.Episode, error) {
	return s.episodes, nil
}

type stubImages struct{}

func (stubImages) DefaultImageURL(context.Context) string { return "https://img/default.png" }

type testEnv struct {
	handler  http.Handler
	source   *memSource
	ci       *fakeCI
	registry *memRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	source := &memSource{objects: map[string][]byte{
		"podcasts/fifty.mp3": bytes.Repeat([]byte("a"), 50),
	}}
	reader, err := blobrange.NewReader(source, "bucket", "podcasts/", time.Second)
	if err != nil {
		t.Fatalf("NewReader() err=%v", err)
	}

	fake := &fakeCI{nextID: 500}
	registry := &memRegistry{labels: map[int64]string{}}
	correlator, err := correlate.New(fake, registry, correlate.Config{
		Interval:    time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
		Timeout:     2 * time.Second,
		LockTTL:     time.Minute,
		ListLimit:   20,
	}, logger)
	if err != nil {
		t.Fatalf("correlate.New() err=%v", err)
	}
	jobService, err := jobs.NewService(fake, fake, registry, correlator, correlate.NewMemoryLocker(), nil, logger)
	if err != nil {
		t.Fatalf("jobs.NewService() err=%v", err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	episodeService, err := episodes.NewService(&stubEpisodes{episodes: []domain.Episode{
		{ContentHash: "old", Title: "Old", PublishedAt: base, Tags: []string{"tech"}},
		{ContentHash: "new", Title: "New", PublishedAt: base.Add(time.Hour), ImageURL: "https://img/new.png", Tags: []string{"world", "tech"}},
	}}, stubImages{})
	if err != nil {
		t.Fatalf("episodes.NewService() err=%v", err)
	}

	mux := http.NewServeMux()
	newPodcastsAPI(logger, episodeService, reader, jobService, []byte("openapi: 3.0.3\n")).register(mux)
	return &testEnv{
		handler:  httpserver.Wrap(logger, "podcasts", mux),
		source:   source,
		ci:       fake,
		registry: registry,
	}
}

func (e *testEnv) do(method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestStreamRequiresFilename(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/podcasts/stream", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	rec = env.do(http.MethodGet, "/podcasts/stream?filename=../secret.mp3", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal status=%d, want 400", rec.Code)
	}
}

func TestStreamMissingFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/podcasts/stream?filename=missing.mp3", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	if env.source.opened != 0 {
		t.Fatalf("opened %d streams, want 0", env.source.opened)
	}
}

func TestStreamRangeBeyondSize(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/podcasts/stream?filename=fifty.mp3", nil, map[string]string{"Range": "bytes=0-99"})
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status=%d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */50" {
		t.Fatalf("Content-Range=%q, want bytes */50", got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body len=%d, want 0", rec.Body.Len())
	}
	if env.source.opened != 0 {
		t.Fatalf("opened %d streams, want 0", env.source.opened)
	}
}

func TestStreamFullAndPartial(t *testing.T) {
	env := newTestEnv(t)

	full := env.do(http.MethodGet, "/podcasts/stream?filename=fifty.mp3", nil, nil)
	if full.Code != http.StatusOK || full.Body.Len() != 50 {
		t.Fatalf("full status=%d len=%d, want 200/50", full.Code, full.Body.Len())
	}
	if full.Header().Get("Accept-Ranges") != "bytes" || full.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("headers=%v", full.Header())
	}

	partial := env.do(http.MethodGet, "/podcasts/stream?filename=fifty.mp3", nil, map[string]string{"Range": "bytes=10-19"})
	if partial.Code != http.StatusPartialContent {
		t.Fatalf("status=%d, want 206", partial.Code)
	}
	if partial.Header().Get("Content-Range") != "bytes 10-19/50" || partial.Header().Get("Content-Length") != "10" {
		t.Fatalf("headers=%v", partial.Header())
	}
	if partial.Body.Len() != 10 {
		t.Fatalf("body len=%d, want 10", partial.Body.Len())
	}
}

func TestTriggerMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/runs/trigger", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow=%q, want POST", rec.Header().Get("Allow"))
	}
}

func TestTriggerValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]string{
		"missing sources": `{"email":"x@y.com"}`,
		"missing email":   `{"news_websites_scraping":["a.com"]}`,
		"bad email":       `{"news_websites_scraping":["a.com"],"email":"nope"}`,
		"bad method":      `{"news_websites_scraping":["a.com"],"email":"x@y.com","method":"browsing"}`,
		"not json":        `{`,
	}
	for name, body := range cases {
		rec := env.do(http.MethodPost, "/runs/trigger", strings.NewReader(body), nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d, want 400", name, rec.Code)
		}
	}
	if len(env.ci.dispatches) != 0 {
		t.Fatalf("dispatched %d times on invalid input", len(env.ci.dispatches))
	}
}

func TestTriggerEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/runs/trigger", strings.NewReader(`{"sources":["a.com"],"requester_email":"x@y.com"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s, want 200", rec.Code, rec.Body.String())
	}
	if len(env.ci.dispatches) != 1 {
		t.Fatalf("dispatches=%d, want 1", len(env.ci.dispatches))
	}
	if got := string(env.ci.dispatches[0].ScrapingConfig); got != `["a.com"]` {
		t.Fatalf("scraping_config=%s", got)
	}
	newest := env.ci.runs[0].ID
	if len(env.registry.labels) != 1 || env.registry.labels[newest] != "x@y.com triggered event" {
		t.Fatalf("registry=%v, want label for run %d", env.registry.labels, newest)
	}

	status := env.do(http.MethodGet, "/runs", nil, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("status code=%d, want 200", status.Code)
	}
	var runs []domain.RunStatus
	if err := json.Unmarshal(status.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Name != "x@y.com triggered event" {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestTriggerDispatchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ci.err = &ci.APIError{StatusCode: http.StatusUnprocessableEntity, Body: "bad"}
	rec := env.do(http.MethodPost, "/runs/trigger", strings.NewReader(`{"news_websites_scraping":["a.com"],"email":"x@y.com"}`), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "bad") {
		t.Fatalf("upstream body leaked: %s", rec.Body.String())
	}

	env.ci.err = ci.ErrMissingCredential
	rec = env.do(http.MethodPost, "/runs/trigger", strings.NewReader(`{"news_websites_scraping":["a.com"],"email":"x@y.com"}`), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("missing credential status=%d, want 500", rec.Code)
	}

	env.ci.err = fmt.Errorf("dispatch workflow: %w: %w", ci.ErrUnavailable, errors.New("Client.Timeout exceeded"))
	rec = env.do(http.MethodPost, "/runs/trigger", strings.NewReader(`{"news_websites_scraping":["a.com"],"email":"x@y.com"}`), nil)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "dispatch_failed") {
		t.Fatalf("unreachable ci: status=%d body=%s, want 500 dispatch_failed", rec.Code, rec.Body.String())
	}
}

func TestRunStatusEmptyRegistry(t *testing.T) {
	env := newTestEnv(t)
	env.ci.runs = []domain.RemoteRun{{ID: 1, Name: "Python application", Status: domain.RunStatusCompleted}}
	rec := env.do(http.MethodGet, "/runs", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestListPodcasts(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/podcasts?page=x&pageSize=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len=%d, want full list for invalid page", len(items))
	}
	if items[0]["filename"] != "new.mp3" || items[1]["img_url"] != "https://img/default.png" {
		t.Fatalf("items=%v", items)
	}

	rec = env.do(http.MethodGet, "/podcasts?page=2&pageSize=1", nil, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0]["title"] != "Old" {
		t.Fatalf("page 2 items=%v", items)
	}
}

func TestListTags(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/podcasts/tags", nil, nil)
	var tags []string
	if err := json.Unmarshal(rec.Body.Bytes(), &tags); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(tags, ",") != "tech,world" {
		t.Fatalf("tags=%v", tags)
	}
}

type emptyEpisodes struct{}

func (emptyEpisodes) List(context.Context, episodes.Page) ([]episodes.Item, error) {
	return nil, repo.ErrNotFound
}

func (emptyEpisodes) Tags(context.Context) ([]string, error) {
	return nil, errors.New("boom")
}

func TestListErrorsMapToStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	newPodcastsAPI(logger, emptyEpisodes{}, nil, nil, nil).register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/podcasts", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("list status=%d, want 404", rec.Code)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/podcasts/tags", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("tags status=%d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

type failingBody struct{ sent bool }

func (f *failingBody) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errors.New("connection reset")
	}
	f.sent = true
	return copy(p, "abc"), nil
}

func (f *failingBody) Close() error { return nil }

type brokenAudio struct{}

func (brokenAudio) Open(context.Context, string, string) (*blobrange.Content, error) {
	return &blobrange.Content{Body: &failingBody{}, Size: 10}, nil
}

func TestStreamFailureAbortsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	newPodcastsAPI(logger, nil, brokenAudio{}, nil, nil).register(mux)

	defer func() {
		if got := recover(); got != http.ErrAbortHandler {
			t.Fatalf("recover()=%v, want http.ErrAbortHandler", got)
		}
	}()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/podcasts/stream?filename=a.mp3", nil))
	t.Fatalf("handler returned normally")
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/podcasts?page=3&pageSize=abc", nil)
	if got := parseIntQuery(req, "page", 0); got != 3 {
		t.Fatalf("page=%d, want 3", got)
	}
	if got := parseIntQuery(req, "pageSize", 0); got != 0 {
		t.Fatalf("pageSize=%d, want default 0", got)
	}
}

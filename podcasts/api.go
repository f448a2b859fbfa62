package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/news-fetcher/podcast-api/internal/blobrange"
	"github.com/news-fetcher/podcast-api/internal/ci"
	"github.com/news-fetcher/podcast-api/internal/correlate"
	"github.com/news-fetcher/podcast-api/internal/domain"
	"github.com/news-fetcher/podcast-api/internal/platform/httpserver"
	"github.com/news-fetcher/podcast-api/internal/platform/requestid"
	"github.com/news-fetcher/podcast-api/internal/repo"
	"github.com/news-fetcher/podcast-api/internal/service/episodes"
	"github.com/news-fetcher/podcast-api/internal/service/jobs"
)

type episodeLister interface {
	List(ctx context.Context, page episodes.Page) ([]episodes.Item, error)
	Tags(ctx context.Context) ([]string, error)
}

type audioOpener interface {
	Open(ctx context.Context, filename, rangeHeader string) (*blobrange.Content, error)
}

type jobRunner interface {
	Trigger(ctx context.Context, req domain.TriggerRequest, auditCtx jobs.AuditContext) (domain.RemoteRun, error)
	Status(ctx context.Context) ([]domain.RunStatus, error)
}

type podcastsAPI struct {
	logger   *slog.Logger
	episodes episodeLister
	audio    audioOpener
	jobs     jobRunner
	openapi  []byte
}

func newPodcastsAPI(logger *slog.Logger, episodes episodeLister, audio audioOpener, jobs jobRunner, openapi []byte) *podcastsAPI {
	return &podcastsAPI{
		logger:   logger,
		episodes: episodes,
		audio:    audio,
		jobs:     jobs,
		openapi:  openapi,
	}
}

func (api *podcastsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /podcasts", api.handleListPodcasts)
	mux.HandleFunc("GET /podcasts/tags", api.handleListTags)
	mux.HandleFunc("GET /podcasts/stream", api.handleStream)

	mux.HandleFunc("GET /runs", api.handleRunStatus)
	// Any method, so non-POST requests get a 405 from the handler.
	mux.HandleFunc("/runs/trigger", api.handleTrigger)

	mux.HandleFunc("GET /openapi.yaml", api.handleOpenAPI)
}

func (api *podcastsAPI) handleListPodcasts(w http.ResponseWriter, r *http.Request) {
	page := episodes.Page{
		Number: parseIntQuery(r, "page", 0),
		Size:   parseIntQuery(r, "pageSize", 0),
	}
	items, err := api.episodes.List(r.Context(), page)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.logger.Warn("no podcasts found")
			api.writeError(w, r, http.StatusNotFound, "no_podcasts")
			return
		}
		api.logger.Error("list podcasts failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, items)
}

func (api *podcastsAPI) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := api.episodes.Tags(r.Context())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "no_podcasts")
			return
		}
		api.logger.Error("list tags failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, tags)
}

func (api *podcastsAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		api.writeError(w, r, http.StatusBadRequest, "filename_required")
		return
	}

	content, err := api.audio.Open(r.Context(), filename, r.Header.Get("Range"))
	if err != nil {
		var rangeErr *blobrange.RangeError
		switch {
		case errors.Is(err, blobrange.ErrInvalidFilename):
			api.writeError(w, r, http.StatusBadRequest, "invalid_filename")
		case errors.Is(err, blobrange.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.As(err, &rangeErr):
			w.Header().Set("Content-Range", rangeErr.ContentRange())
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		default:
			api.logger.Error("open audio failed", "filename", filename, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	defer func() { _ = content.Close() }()

	content.SetHeaders(w.Header())
	w.WriteHeader(content.StatusCode())
	if r.Method == http.MethodHead {
		return
	}
	if n, err := content.WriteTo(w); err != nil {
		// Headers are committed; the only option left is dropping the connection.
		if r.Context().Err() != nil {
			api.logger.Info("client left mid-stream", "filename", filename, "written", n)
		} else {
			api.logger.Error("stream audio failed", "filename", filename, "written", n, "error", err)
		}
		panic(http.ErrAbortHandler)
	}
}

func (api *podcastsAPI) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := api.jobs.Status(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "no_runs")
		case errors.Is(err, ci.ErrMissingCredential):
			api.logger.Error("run status unavailable", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "ci_not_configured")
		case errors.Is(err, ci.ErrUnavailable):
			api.logger.Error("run status failed: ci unreachable", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "ci_unavailable")
		default:
			api.logger.Error("run status failed", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	api.writeJSON(w, http.StatusOK, runs)
}

// triggerRequest accepts both the legacy wire names and the shorter aliases.
type triggerRequest struct {
	NewsWebsitesScraping json.RawMessage `json:"news_websites_scraping"`
	Sources              json.RawMessage `json:"sources"`
	Email                string          `json:"email"`
	RequesterEmail       string          `json:"requester_email"`
	Method               string          `json:"method"`
	BeConcise            *bool           `json:"be_concise"`
	Concise              *bool           `json:"concise"`
}

func (req triggerRequest) toDomain() domain.TriggerRequest {
	out := domain.TriggerRequest{
		Sources:        req.NewsWebsitesScraping,
		RequesterEmail: req.Email,
		Method:         strings.TrimSpace(req.Method),
		Concise:        req.BeConcise,
	}
	if len(out.Sources) == 0 {
		out.Sources = req.Sources
	}
	if strings.TrimSpace(out.RequesterEmail) == "" {
		out.RequesterEmail = req.RequesterEmail
	}
	if out.Concise == nil {
		out.Concise = req.Concise
	}
	return out
}

func (api *podcastsAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		api.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	var body triggerRequest
	if err := decodeJSON(r, &body); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	run, err := api.jobs.Trigger(r.Context(), body.toDomain(), jobs.AuditContext{
		RequestID: requestID,
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		api.writeTriggerError(w, r, err)
		return
	}

	api.logger.Info("podcast generation triggered", "run_id", run.ID, "request_id", requestID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Podcast generation triggered successfully.")
}

func (api *podcastsAPI) writeTriggerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		apiErr        *ci.APIError
	)
	switch {
	case errors.As(err, &validationErr):
		api.writeError(w, r, http.StatusBadRequest, validationCode(validationErr))
	case errors.Is(err, ci.ErrMissingCredential):
		api.logger.Error("trigger failed: ci credential missing")
		api.writeError(w, r, http.StatusInternalServerError, "ci_not_configured")
	case errors.As(err, &apiErr):
		api.logger.Error("dispatch rejected", "upstream_status", apiErr.StatusCode, "upstream_body", apiErr.Body)
		status := http.StatusInternalServerError
		if apiErr.StatusCode >= 200 && apiErr.StatusCode < 400 {
			status = apiErr.StatusCode
		}
		api.writeError(w, r, status, "dispatch_failed")
	case errors.Is(err, ci.ErrUnavailable):
		api.logger.Error("dispatch failed: ci unreachable", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "dispatch_failed")
	case errors.Is(err, correlate.ErrRunNotObserved):
		api.logger.Error("dispatched run not correlated", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "run_not_observed")
	default:
		api.logger.Error("trigger failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func validationCode(err *domain.ValidationError) string {
	if err.Reason == "required" {
		return err.Field + "_required"
	}
	return err.Field + "_invalid"
}

func (api *podcastsAPI) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.openapi)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *podcastsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *podcastsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

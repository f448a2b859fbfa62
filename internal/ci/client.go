package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/news-fetcher/podcast-api/internal/domain"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingCredential means no CI token was configured.
	ErrMissingCredential = errors.New("ci credential is not configured")
	// ErrUnavailable means the CI API gave no response (timeout, connection failure).
	ErrUnavailable = errors.New("ci api unavailable")
)

// APIError is an unexpected answer from the CI API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("ci api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("ci api error (status=%d): %s", e.StatusCode, body)
}

// DispatchInput is the workflow_dispatch payload of the generation workflow.
type DispatchInput struct {
	ScrapingConfig json.RawMessage
	Email          string
	Method         string
	Concise        *bool
}

// Client talks to the GitHub Actions API for one workflow file.
type Client struct {
	cfg Config
	gh  *github.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), src)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.HTTPTimeout

	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		gh.BaseURL = base
	}
	return &Client{cfg: cfg, gh: gh}, nil
}

// Workflow names the dispatched workflow; it keys the trigger lock.
func (c *Client) Workflow() string {
	return c.cfg.Owner + "/" + c.cfg.Repo + "/" + c.cfg.Workflow
}

// Dispatch creates a workflow_dispatch event. GitHub answers 204 with no run
// id; any other status is returned as *APIError.
func (c *Client) Dispatch(ctx context.Context, in DispatchInput) error {
	if c.cfg.Token == "" {
		return ErrMissingCredential
	}
	inputs := map[string]any{
		"scraping_config": string(in.ScrapingConfig),
		"email":           strings.TrimSpace(in.Email),
	}
	if in.Method != "" {
		inputs["method"] = in.Method
	}
	if in.Concise != nil {
		inputs["be_concise"] = *in.Concise
	}

	resp, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.cfg.Owner, c.cfg.Repo, c.cfg.Workflow, github.CreateWorkflowDispatchEventRequest{
		Ref:    c.cfg.Ref,
		Inputs: inputs,
	})
	if err != nil {
		return upstreamError("dispatch workflow", resp, err)
	}
	if resp.StatusCode != http.StatusNoContent {
		return &APIError{StatusCode: resp.StatusCode, Body: "unexpected dispatch status"}
	}
	return nil
}

// ListRuns returns up to limit runs of the workflow, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]domain.RemoteRun, error) {
	if c.cfg.Token == "" {
		return nil, ErrMissingCredential
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	runs, resp, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.cfg.Owner, c.cfg.Repo, c.cfg.Workflow, &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, upstreamError("list workflow runs", resp, err)
	}

	out := make([]domain.RemoteRun, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		if run == nil {
			continue
		}
		out = append(out, domain.RemoteRun{
			ID:        run.GetID(),
			Name:      run.GetName(),
			Status:    run.GetStatus(),
			Event:     run.GetEvent(),
			CreatedAt: run.GetCreatedAt().Time.UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func upstreamError(op string, resp *github.Response, err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: ghErr.Response.StatusCode, Body: ghErr.Message})
	}
	if resp != nil && resp.Response != nil {
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: resp.StatusCode, Body: err.Error()})
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

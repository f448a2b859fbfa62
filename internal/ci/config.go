package ci

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/news-fetcher/podcast-api/internal/platform/env"
)

type Config struct {
	Token       string
	Owner       string
	Repo        string
	Workflow    string
	Ref         string
	BaseURL     string
	HTTPTimeout time.Duration
}

// ConfigFromEnv does not require GITHUB_TOKEN; a missing token surfaces as
// ErrMissingCredential on the first call that needs it.
func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("CI_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Token:       strings.TrimSpace(env.String("GITHUB_TOKEN", "")),
		Owner:       env.String("CI_REPO_OWNER", "News-Fetcher"),
		Repo:        env.String("CI_REPO_NAME", "news-fetcher"),
		Workflow:    env.String("CI_WORKFLOW", "python-app.yml"),
		Ref:         env.String("CI_REF", "master"),
		BaseURL:     strings.TrimSpace(env.String("CI_API_BASE_URL", "")),
		HTTPTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return errors.New("CI_REPO_OWNER is required")
	}
	if strings.TrimSpace(c.Repo) == "" {
		return errors.New("CI_REPO_NAME is required")
	}
	if strings.TrimSpace(c.Workflow) == "" {
		return errors.New("CI_WORKFLOW is required")
	}
	if strings.TrimSpace(c.Ref) == "" {
		return errors.New("CI_REF is required")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("CI_HTTP_TIMEOUT must be positive")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CI_API_BASE_URL must be an absolute url: %q", c.BaseURL)
		}
	}
	return nil
}

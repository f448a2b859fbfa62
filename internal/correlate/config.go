package correlate

import (
	"errors"
	"time"

	"github.com/news-fetcher/podcast-api/internal/platform/env"
)

type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxInterval  time.Duration
	Timeout      time.Duration
	ClockSkew    time.Duration
	LockTTL      time.Duration
	// ListLimit is how many recent runs each poll inspects.
	ListLimit int
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{ListLimit: 20}
	var err error
	if cfg.InitialDelay, err = env.Duration("CORRELATE_INITIAL_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Interval, err = env.Duration("CORRELATE_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxInterval, err = env.Duration("CORRELATE_MAX_INTERVAL", 8*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = env.Duration("CORRELATE_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ClockSkew, err = env.Duration("CORRELATE_CLOCK_SKEW", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = env.Duration("CORRELATE_LOCK_TTL", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.InitialDelay < 0 {
		return errors.New("CORRELATE_INITIAL_DELAY must be >= 0")
	}
	if c.Interval <= 0 {
		return errors.New("CORRELATE_INTERVAL must be positive")
	}
	if c.MaxInterval < c.Interval {
		return errors.New("CORRELATE_MAX_INTERVAL must be >= CORRELATE_INTERVAL")
	}
	if c.Timeout <= c.InitialDelay {
		return errors.New("CORRELATE_TIMEOUT must exceed CORRELATE_INITIAL_DELAY")
	}
	if c.ClockSkew < 0 {
		return errors.New("CORRELATE_CLOCK_SKEW must be >= 0")
	}
	// The lock must outlive one full dispatch and correlation.
	if c.LockTTL <= c.Timeout {
		return errors.New("CORRELATE_LOCK_TTL must exceed CORRELATE_TIMEOUT")
	}
	if c.ListLimit <= 0 {
		return errors.New("list limit must be positive")
	}
	return nil
}

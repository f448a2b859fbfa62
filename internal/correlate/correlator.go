package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/news-fetcher/podcast-api/internal/domain"
	"github.com/news-fetcher/podcast-api/internal/repo"
)

// ErrRunNotObserved means no matching run appeared before the timeout.
var ErrRunNotObserved = errors.New("dispatched run not observed")

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]domain.RemoteRun, error)
}

// Dispatch describes an accepted dispatch awaiting its run.
type Dispatch struct {
	At    time.Time
	Label string
}

// Correlator finds the run created by a dispatch and records its label.
//
// The remote API returns no run id from a dispatch, so the run is matched by
// time window: the oldest workflow_dispatch run created no earlier than
// At-ClockSkew that has no label yet. Callers must hold the workflow lock for
// the whole dispatch and correlation, otherwise two dispatches can race for
// the same run.
type Correlator struct {
	runs     RunLister
	registry repo.RunLabelRepository
	cfg      Config
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(runs RunLister, registry repo.RunLabelRepository, cfg Config, logger *slog.Logger) (*Correlator, error) {
	if runs == nil {
		return nil, errors.New("run lister is required")
	}
	if registry == nil {
		return nil, errors.New("run registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		runs:     runs,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "run_correlator"),
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

func (c *Correlator) Correlate(ctx context.Context, d Dispatch) (domain.RemoteRun, error) {
	if d.At.IsZero() {
		return domain.RemoteRun{}, errors.New("dispatch time is required")
	}
	if d.Label == "" {
		return domain.RemoteRun{}, errors.New("label is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	deadline := c.now().Add(c.cfg.Timeout)

	if err := c.sleep(ctx, c.cfg.InitialDelay); err != nil {
		return domain.RemoteRun{}, c.notObserved(err, 0)
	}

	interval := c.cfg.Interval
	for attempt := 1; ; attempt++ {
		run, found, err := c.poll(ctx, d.At)
		if err != nil {
			if ctx.Err() != nil {
				return domain.RemoteRun{}, c.notObserved(ctx.Err(), attempt)
			}
			return domain.RemoteRun{}, err
		}
		if found {
			if err := c.registry.UpsertRunLabel(ctx, run.ID, d.Label); err != nil {
				return domain.RemoteRun{}, fmt.Errorf("record run %d: %w", run.ID, err)
			}
			c.logger.Info("run correlated",
				"run_id", run.ID,
				"label", d.Label,
				"attempts", attempt,
				"lag", run.CreatedAt.Sub(d.At).String(),
			)
			return run, nil
		}

		if !c.now().Add(interval).Before(deadline) {
			return domain.RemoteRun{}, c.notObserved(nil, attempt)
		}
		if err := c.sleep(ctx, interval); err != nil {
			return domain.RemoteRun{}, c.notObserved(err, attempt)
		}
		interval *= 2
		if interval > c.cfg.MaxInterval {
			interval = c.cfg.MaxInterval
		}
	}
}

func (c *Correlator) poll(ctx context.Context, dispatchedAt time.Time) (domain.RemoteRun, bool, error) {
	runs, err := c.runs.ListRuns(ctx, c.cfg.ListLimit)
	if err != nil {
		return domain.RemoteRun{}, false, fmt.Errorf("list runs: %w", err)
	}
	labels, err := c.registry.AllRunLabels(ctx)
	if err != nil {
		return domain.RemoteRun{}, false, fmt.Errorf("read run registry: %w", err)
	}
	run, ok := pickRun(runs, labels, dispatchedAt.Add(-c.cfg.ClockSkew))
	return run, ok, nil
}

// pickRun returns the oldest unlabelled dispatch run created at or after since.
func pickRun(runs []domain.RemoteRun, labels map[int64]string, since time.Time) (domain.RemoteRun, bool) {
	var (
		best  domain.RemoteRun
		found bool
	)
	for _, run := range runs {
		if run.CreatedAt.Before(since) {
			continue
		}
		if run.Event != "" && run.Event != domain.EventWorkflowDispatch {
			continue
		}
		if _, taken := labels[run.ID]; taken {
			continue
		}
		if !found || run.CreatedAt.Before(best.CreatedAt) ||
			(run.CreatedAt.Equal(best.CreatedAt) && run.ID < best.ID) {
			best = run
			found = true
		}
	}
	return best, found
}

func (c *Correlator) notObserved(cause error, attempts int) error {
	c.logger.Warn("dispatched run not observed", "attempts", attempts, "timeout", c.cfg.Timeout.String())
	if cause != nil {
		return fmt.Errorf("%w after %d polls: %v", ErrRunNotObserved, attempts, cause)
	}
	return fmt.Errorf("%w after %d polls", ErrRunNotObserved, attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

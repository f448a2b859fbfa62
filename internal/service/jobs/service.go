package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/news-fetcher/podcast-api/internal/ci"
	"github.com/news-fetcher/podcast-api/internal/correlate"
	"github.com/news-fetcher/podcast-api/internal/domain"
	"github.com/news-fetcher/podcast-api/internal/platform/auditlog"
	"github.com/news-fetcher/podcast-api/internal/repo"
)

// StatusLimit is how many recent runs the status query returns.
const StatusLimit = 10

type Dispatcher interface {
	Workflow() string
	Dispatch(ctx context.Context, in ci.DispatchInput) error
}

type Correlator interface {
	Correlate(ctx context.Context, d correlate.Dispatch) (domain.RemoteRun, error)
}

type Auditor interface {
	Record(ctx context.Context, event auditlog.Event) error
}

// AuditContext carries request identity into audit events.
type AuditContext struct {
	RequestID string
	IP        net.IP
	UserAgent string
}

type Service struct {
	dispatcher Dispatcher
	runs       correlate.RunLister
	registry   repo.RunLabelRepository
	correlator Correlator
	locker     correlate.Locker
	audit      Auditor
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires the trigger and status operations. audit may be nil.
func NewService(
	dispatcher Dispatcher,
	runs correlate.RunLister,
	registry repo.RunLabelRepository,
	correlator Correlator,
	locker correlate.Locker,
	audit Auditor,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case runs == nil:
		return nil, errors.New("run lister is required")
	case registry == nil:
		return nil, errors.New("run registry is required")
	case correlator == nil:
		return nil, errors.New("correlator is required")
	case locker == nil:
		return nil, errors.New("locker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dispatcher: dispatcher,
		runs:       runs,
		registry:   registry,
		correlator: correlator,
		locker:     locker,
		audit:      audit,
		logger:     logger.With("component", "jobs"),
		now:        time.Now,
	}, nil
}

// Trigger dispatches the workflow for req and returns the correlated run.
func (s *Service) Trigger(ctx context.Context, req domain.TriggerRequest, auditCtx AuditContext) (domain.RemoteRun, error) {
	if err := req.Validate(); err != nil {
		return domain.RemoteRun{}, err
	}
	var scrapingConfig bytes.Buffer
	if err := json.Compact(&scrapingConfig, req.Sources); err != nil {
		return domain.RemoteRun{}, &domain.ValidationError{Field: "sources", Reason: "must be valid JSON"}
	}
	email := strings.TrimSpace(req.RequesterEmail)
	workflow := s.dispatcher.Workflow()

	unlock, err := s.locker.Lock(ctx, workflow)
	if err != nil {
		return domain.RemoteRun{}, fmt.Errorf("acquire trigger lock: %w", err)
	}
	defer unlock()

	// A dispatch accepted upstream is attributed even if the caller leaves.
	ctx = context.WithoutCancel(ctx)
	dispatchedAt := s.now().UTC()
	if err := s.dispatcher.Dispatch(ctx, ci.DispatchInput{
		ScrapingConfig: scrapingConfig.Bytes(),
		Email:          email,
		Method:         req.Method,
		Concise:        req.Concise,
	}); err != nil {
		return domain.RemoteRun{}, fmt.Errorf("dispatch: %w", err)
	}

	s.logger.Info("workflow dispatched", "workflow", workflow, "email", email, "method", req.Method, "request_id", auditCtx.RequestID)
	s.record(ctx, auditlog.Event{
		OccurredAt:   dispatchedAt,
		Actor:        email,
		Action:       auditlog.ActionDispatch,
		ResourceType: auditlog.ResourceWorkflowRun,
		ResourceID:   workflow,
		Payload: map[string]any{
			"method":     req.Method,
			"be_concise": req.Concise,
		},
	}, auditCtx)

	run, err := s.correlator.Correlate(ctx, correlate.Dispatch{
		At:    dispatchedAt,
		Label: domain.TriggeredLabel(email),
	})
	if err != nil {
		s.record(ctx, auditlog.Event{
			Actor:        email,
			Action:       auditlog.ActionCorrelate,
			ResourceType: auditlog.ResourceWorkflowRun,
			ResourceID:   workflow,
			Payload:      map[string]any{"outcome": "not_observed", "error": err.Error()},
		}, auditCtx)
		return domain.RemoteRun{}, fmt.Errorf("correlate: %w", err)
	}

	s.record(ctx, auditlog.Event{
		Actor:        email,
		Action:       auditlog.ActionCorrelate,
		ResourceType: auditlog.ResourceWorkflowRun,
		ResourceID:   strconv.FormatInt(run.ID, 10),
		Payload:      map[string]any{"outcome": "correlated", "workflow": workflow},
	}, auditCtx)
	return run, nil
}

// Status returns the most recent runs, newest first, named by their registry
// label when one exists. Both an empty run list and an empty registry are
// reported as repo.ErrNotFound.
func (s *Service) Status(ctx context.Context) ([]domain.RunStatus, error) {
	runs, err := s.runs.ListRuns(ctx, StatusLimit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no workflow runs: %w", repo.ErrNotFound)
	}
	labels, err := s.registry.AllRunLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("read run registry: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("run registry is empty: %w", repo.ErrNotFound)
	}
	if len(runs) > StatusLimit {
		runs = runs[:StatusLimit]
	}
	return mergeLabels(runs, labels), nil
}

func mergeLabels(runs []domain.RemoteRun, labels map[int64]string) []domain.RunStatus {
	out := make([]domain.RunStatus, 0, len(runs))
	for _, run := range runs {
		name := run.Name
		if label, ok := labels[run.ID]; ok {
			name = label
		}
		out = append(out, domain.RunStatus{
			ID:        run.ID,
			CreatedAt: run.CreatedAt,
			Name:      name,
			Status:    run.Status,
		})
	}
	return out
}

func (s *Service) record(ctx context.Context, event auditlog.Event, auditCtx AuditContext) {
	if s.audit == nil {
		return
	}
	event.RequestID = auditCtx.RequestID
	event.IP = auditCtx.IP
	event.UserAgent = auditCtx.UserAgent
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Error("audit write failed", "action", event.Action, "resource_id", event.ResourceID, "error", err)
	}
}

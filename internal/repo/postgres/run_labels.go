package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	selectRunLabelsQuery = `SELECT run_id, label FROM run_labels`

	// A single statement per key: concurrent writers never drop each other's rows.
	upsertRunLabelQuery = `INSERT INTO run_labels (
			run_id,
			label,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$3)
		ON CONFLICT (run_id) DO UPDATE
		SET label = EXCLUDED.label, updated_at = EXCLUDED.updated_at`
)

type RunLabelStore struct {
	db  DB
	now func() time.Time
}

func NewRunLabelStore(db DB) *RunLabelStore {
	if db == nil {
		return nil
	}
	return &RunLabelStore{db: db, now: time.Now}
}

func (s *RunLabelStore) AllRunLabels(ctx context.Context) (map[int64]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run label store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectRunLabelsQuery)
	if err != nil {
		return nil, fmt.Errorf("list run labels: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			runID int64
			label string
		)
		if err := rows.Scan(&runID, &label); err != nil {
			return nil, fmt.Errorf("scan run label: %w", err)
		}
		out[runID] = label
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run labels: %w", err)
	}
	return out, nil
}

func (s *RunLabelStore) UpsertRunLabel(ctx context.Context, runID int64, label string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run label store not initialized")
	}
	label = strings.TrimSpace(label)
	if runID <= 0 {
		return fmt.Errorf("run id must be positive")
	}
	if label == "" {
		return fmt.Errorf("label is required")
	}
	if _, err := s.db.ExecContext(ctx, upsertRunLabelQuery, runID, label, normalizeTime(s.now())); err != nil {
		return fmt.Errorf("upsert run label %d: %w", runID, err)
	}
	return nil
}

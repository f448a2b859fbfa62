package repo

import (
	"context"
	"errors"

	"github.com/news-fetcher/podcast-api/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EpisodeRepository reads generated episodes. Episodes are never written here.
type EpisodeRepository interface {
	ListEpisodes(ctx context.Context) ([]domain.Episode, error)
}

// RunLabelRepository is the run registry: run id to attribution label.
// Entries are never deleted; Upsert is atomic per key.
type RunLabelRepository interface {
	AllRunLabels(ctx context.Context) (map[int64]string, error)
	UpsertRunLabel(ctx context.Context, runID int64, label string) error
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/news-fetcher/podcast-api/internal/domain"
)

const listEpisodesQuery = `SELECT
		content_hash,
		title,
		description,
		image_url,
		published_at,
		tags,
		total_duration
	FROM podcasts
	ORDER BY published_at DESC, content_hash ASC`

type EpisodeStore struct {
	db DB
}

func NewEpisodeStore(db DB) *EpisodeStore {
	if db == nil {
		return nil
	}
	return &EpisodeStore{db: db}
}

func (s *EpisodeStore) ListEpisodes(ctx context.Context) ([]domain.Episode, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("episode store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listEpisodesQuery)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Episode
	for rows.Next() {
		var (
			ep       domain.Episode
			imageURL sql.NullString
			tagsRaw  []byte
		)
		if err := rows.Scan(
			&ep.ContentHash,
			&ep.Title,
			&ep.Description,
			&imageURL,
			&ep.PublishedAt,
			&tagsRaw,
			&ep.TotalDuration,
		); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if imageURL.Valid {
			ep.ImageURL = imageURL.String
		}
		tags, err := decodeTags(tagsRaw)
		if err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", ep.ContentHash, err)
		}
		ep.Tags = tags
		ep.PublishedAt = ep.PublishedAt.UTC()
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return out, nil
}

package episodes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/news-fetcher/podcast-api/internal/domain"
	"github.com/news-fetcher/podcast-api/internal/repo"
)

// Item is an episode as listed to clients.
type Item struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Filename      string    `json:"filename"`
	ImageURL      string    `json:"img_url"`
	Date          time.Time `json:"date"`
	Tags          []string  `json:"tags"`
	TotalDuration float64   `json:"total_duration"`
}

// Page selects a 1-based page. The zero Page means the whole list.
type Page struct {
	Number int
	Size   int
}

func (p Page) valid() bool {
	return p.Number > 0 && p.Size > 0
}

type ImageURLResolver interface {
	DefaultImageURL(ctx context.Context) string
}

type Service struct {
	repo   repo.EpisodeRepository
	images ImageURLResolver
}

func NewService(episodes repo.EpisodeRepository, images ImageURLResolver) (*Service, error) {
	if episodes == nil {
		return nil, errors.New("episode repository is required")
	}
	if images == nil {
		return nil, errors.New("image resolver is required")
	}
	return &Service{repo: episodes, images: images}, nil
}

// List returns episodes newest first. An invalid page returns the full list;
// a page past the end returns an empty list. No episodes at all is
// repo.ErrNotFound.
func (s *Service) List(ctx context.Context, page Page) ([]Item, error) {
	episodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var defaultImage string
	var resolved bool
	items := make([]Item, 0, len(episodes))
	for _, ep := range episodes {
		image := ep.ImageURL
		if image == "" {
			if !resolved {
				defaultImage = s.images.DefaultImageURL(ctx)
				resolved = true
			}
			image = defaultImage
		}
		tags := ep.Tags
		if tags == nil {
			tags = []string{}
		}
		items = append(items, Item{
			Title:         ep.Title,
			Description:   ep.Description,
			Filename:      ep.Filename(),
			ImageURL:      image,
			Date:          ep.PublishedAt,
			Tags:          tags,
			TotalDuration: ep.TotalDuration,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date)
	})
	return paginate(items, page), nil
}

// Tags returns every tag in first-appearance order without duplicates.
func (s *Service) Tags(ctx context.Context) ([]string, error) {
	episodes, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, ep := range episodes {
		for _, tag := range ep.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out, nil
}

func (s *Service) load(ctx context.Context) ([]domain.Episode, error) {
	episodes, err := s.repo.ListEpisodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("no episodes: %w", repo.ErrNotFound)
	}
	return episodes, nil
}

func paginate(items []Item, page Page) []Item {
	if !page.valid() {
		return items
	}
	start := (page.Number - 1) * page.Size
	if start >= len(items) || start < 0 {
		return []Item{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

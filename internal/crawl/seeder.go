package crawl

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/law-makers/deepcrawl/internal/content"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// Seeder supplies scored start URLs.
type Seeder interface {
	Seeds(ctx context.Context) ([]models.Seed, error)
}

// ListSeeder scores a fixed URL list against a query with BM25 over the
// words in each URL's host and path. Without a query every seed scores 0 and
// the list order is kept.
type ListSeeder struct {
	URLs        []string
	Query       string
	UseStemming bool
}

// Seeds returns the URLs ordered by descending score.
func (s ListSeeder) Seeds(ctx context.Context) ([]models.Seed, error) {
	seeds := make([]models.Seed, 0, len(s.URLs))
	for _, u := range s.URLs {
		if u = strings.TrimSpace(u); u != "" {
			seeds = append(seeds, models.Seed{URL: u})
		}
	}
	query := content.Tokenize(s.Query, s.UseStemming)
	if len(query) == 0 || len(seeds) == 0 {
		return seeds, nil
	}

	corpus := make([][]string, len(seeds))
	for i, seed := range seeds {
		corpus[i] = content.Tokenize(urlWords(seed.URL), s.UseStemming)
	}
	idx := content.NewBM25(corpus, 0, 0)
	for i := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seeds[i].Score = idx.Score(query, i)
	}
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].Score > seeds[j].Score })
	return seeds, nil
}

func urlWords(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return host + " " + u.Path + " " + u.RawQuery
}

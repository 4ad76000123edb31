// Package news defines the news source contract used by the pipeline and
// its in-process implementations.
package news

import (
	"context"
	"time"
)

// Item is one news article or summary.
type Item struct {
	Source      string    `json:"source"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Relevance   *float64  `json:"relevance_score,omitempty"`
}

// Source queries news for a list of topics. Implementations must respect
// ctx so a slow provider cannot hold up a run.
type Source interface {
	Query(ctx context.Context, topics []string) ([]Item, error)
}

// Static returns the same items for every query. The zero value returns
// nothing, which is what backtests use.
type Static struct {
	Items []Item
}

// Query implements Source.
func (s Static) Query(ctx context.Context, topics []string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Item(nil), s.Items...), nil
}

// Topics merges sectors and tickers into one de-duplicated topic list,
// keeping first-seen order. Each input contributes at most limit entries;
// limit <= 0 means no cap.
func Topics(limit int, groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		if limit > 0 && len(g) > limit {
			g = g[:limit]
		}
		for _, t := range g {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

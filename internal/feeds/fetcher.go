package feeds

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"newsrag/internal/models"
	"newsrag/internal/processing"
)

// Fetcher retrieves syndication feeds and normalizes their items into
// articles. IDs are assigned later by the ingestion pipeline.
type Fetcher struct {
	parser *gofeed.Parser
}

// New creates a fetcher with the given per-request timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = "newsrag/1.0"
	return &Fetcher{parser: p}
}

// Fetch parses the feed at sourceURL and returns up to limit normalized
// articles. The item body prefers the short description over the full
// content; items with neither keep an empty content field.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string, limit int) ([]models.Article, error) {
	feed, err := f.parser.ParseURLWithContext(sourceURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", sourceURL, err)
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	articles := make([]models.Article, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		articles = append(articles, models.Article{
			Title:       processing.StripHTML(item.Title),
			Content:     processing.Snippet(item.Description, item.Content),
			Link:        item.Link,
			PublishedAt: item.Published,
			Source:      feed.Title,
		})
	}
	return articles, nil
}

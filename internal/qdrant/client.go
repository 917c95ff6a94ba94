package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"newsrag/internal/models"
)

// Client is a REST client to Qdrant scoped to a single collection. The
// collection uses cosine distance; EnsureCollection creates it on demand.
type Client struct {
	url        string
	collection string
	http       *http.Client
	log        *slog.Logger
}

// Config contains connection details for the vector store.
type Config struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// New instantiates the Qdrant client.
func New(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		collection: cfg.Collection,
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Health checks that Qdrant answers readiness probes.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant health: %s", resp.Status)
	}
	return nil
}

// EnsureCollection makes sure the collection exists with the given vector
// dimension. It is idempotent: an existing collection is left untouched.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("ensure collection: invalid dimension %d", dimension)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(""), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode != http.StatusNotFound:
		return fmt.Errorf("check collection: %s", resp.Status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, c.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	c.log.Info("collection created",
		slog.String("collection", c.collection),
		slog.Int("dimension", dimension),
	)
	return nil
}

// Upsert writes entries into the collection in one batch. An empty batch
// is a no-op and performs no network call.
func (c *Client) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		points[i] = map[string]any{
			"id":      e.ID,
			"vector":  e.Vector,
			"payload": e.Payload,
		}
	}

	body := map[string]any{"points": points}
	if err := c.do(ctx, http.MethodPut, c.collectionURL("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(entries), err)
	}
	return nil
}

// Search returns up to limit nearest neighbours, highest similarity first.
// An empty collection yields an empty slice, not an error.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]models.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var parsed struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload models.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/search"), body, &parsed); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hits = append(hits, models.SearchHit{Payload: r.Payload, Score: r.Score})
	}
	return hits, nil
}

// DeleteOlderThan removes entries whose ingestion timestamp is older than
// maxAge. Used by the retention job.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := float64(time.Now().Add(-maxAge).UTC().Unix())

	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "ingested_at",
					"range": map[string]any{"lt": cutoff},
				},
			},
		},
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("delete older than %s: %w", maxAge, err)
	}
	return nil
}

func (c *Client) collectionURL(suffix string) string {
	return c.url + "/collections/" + c.collection + suffix
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s", method, resp.Request.URL.Path, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

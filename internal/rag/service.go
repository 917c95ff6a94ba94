package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"newsrag/internal/dedupe"
	"newsrag/internal/models"
	"newsrag/internal/processing"
)

// ErrNotInitialized is returned for queries arriving before ingestion has
// made the index usable.
var ErrNotInitialized = errors.New("rag service not initialized")

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector store used for article storage and similarity search.
type Index interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []models.IndexEntry) error
	Search(ctx context.Context, vector []float32, limit int) ([]models.SearchHit, error)
}

// Generator produces a completion for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Fetcher retrieves normalized articles from a feed source.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string, limit int) ([]models.Article, error)
}

// State tracks service readiness. Queries are served in StateReady only.
type State int32

const (
	StateUninitialized State = iota
	StateIngesting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIngesting:
		return "ingesting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options tunes the ingestion and query pipelines.
type Options struct {
	Dimension        int
	Sources          []string
	SourceItemLimit  int
	SearchLimit      int
	EmbedInterval    time.Duration
	MaxEmbedAttempts int
	RetryBackoff     time.Duration
}

// Report summarizes one ingestion run.
type Report struct {
	Ingested      int
	Skipped       int
	FailedItems   int
	FailedSources []string
}

// Service is the retrieval-and-generation core. One instance is built at
// startup and shared by all request handlers; queries may run concurrently
// with each other and with an in-progress ingestion run.
type Service struct {
	embedder  Embedder
	index     Index
	generator Generator
	fetcher   Fetcher

	seen    *dedupe.Cache
	limiter *rate.Limiter
	log     *slog.Logger
	opts    Options

	state atomic.Int32
}

// NewService wires the pipeline components together. All embedding calls
// in this process share one token-bucket limiter so the provider's
// request-rate ceiling holds regardless of caller concurrency.
func NewService(embedder Embedder, index Index, generator Generator, fetcher Fetcher, seen *dedupe.Cache, log *slog.Logger, opts Options) *Service {
	if opts.SourceItemLimit <= 0 {
		opts.SourceItemLimit = 20
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	if opts.EmbedInterval <= 0 {
		opts.EmbedInterval = 100 * time.Millisecond
	}
	if opts.MaxEmbedAttempts <= 0 {
		opts.MaxEmbedAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if seen == nil {
		seen = dedupe.NewCache(20000, 24*time.Hour)
	}

	return &Service{
		embedder:  embedder,
		index:     index,
		generator: generator,
		fetcher:   fetcher,
		seen:      seen,
		limiter:   rate.NewLimiter(rate.Every(opts.EmbedInterval), 1),
		log:       log,
		opts:      opts,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Initialize makes sure the collection exists and runs one ingestion pass
// over the configured feed sources. A collection setup failure is fatal
// and leaves the service in StateFailed; per-source and per-item failures
// are isolated and only reflected in the report.
func (s *Service) Initialize(ctx context.Context) (*Report, error) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateIngesting)) {
		return nil, fmt.Errorf("initialize: service is %s", s.State())
	}

	if err := s.index.EnsureCollection(ctx, s.opts.Dimension); err != nil {
		s.state.Store(int32(StateFailed))
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	report := s.ingest(ctx)
	s.state.Store(int32(StateReady))

	s.log.Info("ingestion finished",
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed_items", report.FailedItems),
		slog.Int("failed_sources", len(report.FailedSources)),
	)
	return report, nil
}

// Refresh re-runs feed ingestion on demand. The service stays Ready while
// it runs; concurrent queries see newly upserted entries eventually.
func (s *Service) Refresh(ctx context.Context) (*Report, error) {
	if s.State() != StateReady {
		return nil, ErrNotInitialized
	}
	report := s.ingest(ctx)
	s.log.Info("refresh finished",
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Service) ingest(ctx context.Context) *Report {
	report := &Report{}
	now := time.Now()

	var entries []models.IndexEntry
	var keys []string
	// The seen-cache is only updated once the batch lands, so duplicates
	// inside this run (the same story from overlapping feeds) need their
	// own accumulator-level check.
	pending := make(map[string]struct{})

	for _, src := range s.opts.Sources {
		articles, err := s.fetcher.Fetch(ctx, src, s.opts.SourceItemLimit)
		if err != nil {
			// One dead source never aborts the run; index what is reachable.
			s.log.Warn("feed source failed", slog.String("source", src), slog.Any("err", err))
			report.FailedSources = append(report.FailedSources, src)
			continue
		}

		for _, a := range articles {
			key := dedupe.Key(a.Title, a.Link, a.Source)
			if _, dup := pending[key]; dup || s.seen.IsSeen(key) {
				report.Skipped++
				continue
			}

			text := processing.CombinedText(a.Title, a.Content)
			if text == "" {
				report.Skipped++
				continue
			}

			vector, err := s.embedPaced(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					s.log.Warn("ingestion interrupted", slog.Any("err", ctx.Err()))
					return report
				}
				s.log.Warn("embed article failed",
					slog.String("title", a.Title),
					slog.String("source", a.Source),
					slog.Any("err", err),
				)
				report.FailedItems++
				continue
			}

			a.ID = uuid.NewString()
			entries = append(entries, models.IndexEntry{ID: a.ID, Vector: vector, Payload: models.NewPayload(a, now)})
			keys = append(keys, key)
		}
	}

	if len(entries) == 0 {
		return report
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		// Fatal for this run only: nothing was indexed, the service keeps
		// serving whatever the collection already holds.
		s.log.Error("batch upsert failed", slog.Int("entries", len(entries)), slog.Any("err", err))
		return report
	}

	for _, key := range keys {
		s.seen.MarkSeen(key)
	}
	report.Ingested = len(entries)
	return report
}

// IndexArticle embeds and upserts a single article. It is the push-path
// entry point used by the Kafka worker; duplicates are dropped silently.
func (s *Service) IndexArticle(ctx context.Context, a models.Article) error {
	key := dedupe.Key(a.Title, a.Link, a.Source)
	if s.seen.IsSeen(key) {
		s.log.Debug("duplicate article", slog.String("title", a.Title))
		return nil
	}

	text := processing.CombinedText(a.Title, a.Content)
	if text == "" {
		return errors.New("index article: empty title and content")
	}

	vector, err := s.embedPaced(ctx, text)
	if err != nil {
		return fmt.Errorf("embed article: %w", err)
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	entry := models.IndexEntry{ID: a.ID, Vector: vector, Payload: models.NewPayload(a, time.Now())}
	if err := s.index.Upsert(ctx, []models.IndexEntry{entry}); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}

	s.seen.MarkSeen(key)
	return nil
}

// ProcessQuery answers a user message from the indexed articles. Any
// failure along the way is fatal for this query; no degraded answer is
// synthesized.
func (s *Service) ProcessQuery(ctx context.Context, query string) (*models.Answer, error) {
	if s.State() != StateReady {
		return nil, ErrNotInitialized
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("process query: empty query")
	}

	// Queries share the embedding rate limiter with ingestion but get no
	// retries: a failed query embedding fails the whole request.
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, s.opts.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	// An empty result set still goes to generation; the grounding
	// instruction makes the model state it lacks information.
	prompt := BuildPrompt(query, BuildContext(hits))

	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	sources := make([]models.SourceRef, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, models.SourceRef{
			Title:  h.Payload.Title,
			Link:   h.Payload.Link,
			Source: h.Payload.Source,
		})
	}

	return &models.Answer{Response: response, Sources: sources}, nil
}

// embedPaced waits on the shared rate limiter and retries transient
// provider failures with exponential backoff. Non-transient failures
// (validation errors and the like) are returned immediately.
func (s *Service) embedPaced(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt < s.opts.MaxEmbedAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * s.opts.RetryBackoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vector, err := s.embedder.Embed(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		var tr interface{ Transient() bool }
		if !errors.As(err, &tr) || !tr.Transient() {
			return nil, err
		}
	}

	return nil, lastErr
}

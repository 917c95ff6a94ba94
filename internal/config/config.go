package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains the vector index and embedding parameters shared by
// every service that writes to or reads from the collection.
type Common struct {
	QdrantURL        string
	QdrantCollection string

	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingAPIKey    string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration

	// EmbedInterval is the minimum spacing between embedding calls. The
	// provider enforces a request-rate ceiling; this is a deliberate
	// throughput cap, not tuning.
	EmbedInterval time.Duration
}

// API describes the chat API service: feed ingestion, generation, session
// storage, and the HTTP layer.
type API struct {
	Common
	BindAddr string

	FeedSources   []string
	FeedItemLimit int
	FeedTimeout   time.Duration

	SearchLimit int

	GenerationBaseURL string
	GenerationModel   string
	GenerationAPIKey  string
	GenerationTimeout time.Duration

	RedisURL     string
	SessionTTL   time.Duration
	HistoryLimit int

	DedupeCapacity int
	DedupeTTL      time.Duration
}

// Worker holds configuration for the Kafka -> vector index worker.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
}

// Retention configures the cleanup loop.
type Retention struct {
	QdrantURL        string
	QdrantCollection string
	Interval         time.Duration
	MaxAge           time.Duration
}

var defaultFeedSources = []string{
	"https://news.google.com/rss/search?q=when:24h+allinurl:reuters.com&hl=en-US&gl=US&ceid=US:en",
	"https://news.google.com/rss/search?q=when:24h+allinurl:cnn.com&hl=en-US&gl=US&ceid=US:en",
	"https://news.google.com/rss?pz=1&cf=all&hl=en-US&gl=US&ceid=US:en",
	"https://news.google.com/rss/headlines/section/topic/TECHNOLOGY?hl=en-US&gl=US&ceid=US:en",
}

func loadCommon() (Common, error) {
	c := Common{
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "news_articles"),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "https://api.jina.ai/v1"),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "jina-embeddings-v2-base-en"),
		EmbeddingAPIKey:    os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingDimension: getInt("EMBEDDING_DIMENSION", 768),
		EmbeddingTimeout:   getDuration("EMBEDDING_TIMEOUT", "15s"),
		EmbedInterval:      getDuration("EMBED_INTERVAL", "100ms"),
	}

	if c.EmbeddingDimension <= 0 {
		return c, fmt.Errorf("EMBEDDING_DIMENSION must be positive")
	}
	if c.EmbedInterval <= 0 {
		return c, fmt.Errorf("EMBED_INTERVAL must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:            common,
		BindAddr:          getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		FeedSources:       splitAndTrim(getEnv("FEED_SOURCES", "")),
		FeedItemLimit:     getInt("FEED_ITEM_LIMIT", 20),
		FeedTimeout:       getDuration("FEED_TIMEOUT", "15s"),
		SearchLimit:       getInt("SEARCH_LIMIT", 5),
		GenerationBaseURL: getEnv("GENERATION_BASE_URL", "https://generativelanguage.googleapis.com"),
		GenerationModel:   getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		GenerationAPIKey:  os.Getenv("GENERATION_API_KEY"),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", "20s"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		SessionTTL:        getDuration("SESSION_TTL", "24h"),
		HistoryLimit:      getInt("HISTORY_LIMIT", 50),
		DedupeCapacity:    getInt("DEDUPE_CAPACITY", 20000),
		DedupeTTL:         getDuration("DEDUPE_TTL", "24h"),
	}

	if len(c.FeedSources) == 0 {
		c.FeedSources = defaultFeedSources
	}
	if c.FeedItemLimit <= 0 {
		return nil, fmt.Errorf("FEED_ITEM_LIMIT must be positive")
	}
	if c.SearchLimit <= 0 {
		return nil, fmt.Errorf("SEARCH_LIMIT must be positive")
	}
	if c.HistoryLimit <= 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         common,
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "news_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "news-indexer"),
		DedupeCapacity: getInt("DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("DEDUPE_TTL", "24h"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "news_articles"),
		Interval:         getDuration("RETENTION_CRON", "24h"),
		MaxAge:           getDuration("RETENTION_MAX_AGE", "168h"),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

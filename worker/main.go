package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"newsrag/internal/config"
	"newsrag/internal/dedupe"
	"newsrag/internal/embedding"
	"newsrag/internal/logger"
	"newsrag/internal/models"
	"newsrag/internal/processing"
	"newsrag/internal/qdrant"
	"newsrag/internal/rag"
)

// rawArticle is the push-path wire format: producers drop stories onto the
// topic and this worker embeds and indexes them next to the feed articles.
type rawArticle struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

type articleIndexer interface {
	IndexArticle(ctx context.Context, a models.Article) error
}

func main() {
	_ = godotenv.Load()

	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	index := qdrant.New(qdrant.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
	}, log)

	embedder := embedding.New(embedding.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.EmbeddingTimeout,
	})

	svc := rag.NewService(
		embedder,
		index,
		nil, // the worker never generates answers
		nil, // nor fetches feeds
		dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		log,
		rag.Options{
			Dimension:     cfg.EmbeddingDimension,
			EmbedInterval: cfg.EmbedInterval,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := index.EnsureCollection(setupCtx, cfg.EmbeddingDimension); err != nil {
		cancel()
		log.Error("ensure collection", slog.Any("err", err))
		os.Exit(1)
	}
	cancel()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("collection", cfg.QdrantCollection),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, svc, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				// Skip the commit so the message is reprocessed after restart.
				log.Error("DLQ write exhausted retries",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

func processMessage(ctx context.Context, log *slog.Logger, indexer articleIndexer, msg kafka.Message) error {
	var payload rawArticle
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	title := processing.StripHTML(payload.Title)
	content := processing.StripHTML(payload.Content)
	if title == "" && content == "" {
		return errors.New("empty payload")
	}

	source := strings.TrimSpace(payload.Source)
	if source == "" {
		source = "push"
	}

	article := models.Article{
		Title:       title,
		Content:     content,
		Link:        strings.TrimSpace(payload.Link),
		PublishedAt: strings.TrimSpace(payload.PublishedAt),
		Source:      source,
	}

	if err := indexer.IndexArticle(ctx, article); err != nil {
		return err
	}

	log.Info("indexed article", slog.String("title", article.Title), slog.String("source", article.Source))
	return nil
}

func sendToDLQ(ctx context.Context, log *slog.Logger, writer *kafka.Writer, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		if err := writer.WriteMessages(ctx, dlqMsg); err == nil {
			return true
		} else {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Warn("DLQ write failed, retrying",
				slog.Any("err", err),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}

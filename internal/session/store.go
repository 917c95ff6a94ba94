package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"newsrag/internal/models"
)

// Store keeps per-session chat history in Redis. Each session is a list of
// JSON-encoded messages, newest first on the wire, expiring after ttl of
// inactivity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a store using a redis:// URL.
func New(redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveMessage appends a message to the session history and refreshes the
// session ttl.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := historyKey(sessionID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	return nil
}

// History returns up to limit messages, oldest first. Unparsable entries
// are skipped.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	raw, err := s.client.LRange(ctx, historyKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	messages := make([]models.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg models.ChatMessage
		if json.Unmarshal([]byte(raw[i]), &msg) != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear deletes a session's history.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func historyKey(sessionID string) string {
	return "chat:" + sessionID
}

package dedupe

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"newsrag/internal/processing"
)

// Key hashes the most stable identifying fields of an article into a
// cache key. The normalized link wins; items without a link fall back to
// title+source.
func Key(title, link, source string) string {
	basis := processing.NormalizeLink(link)
	if basis == "" {
		basis = strings.TrimSpace(title) + "|" + strings.TrimSpace(source)
	}
	s := sha1.Sum([]byte(basis))
	return hex.EncodeToString(s[:])
}

// Cache remembers article keys seen during recent ingestion so overlapping
// feeds and repeated runs do not index the same story twice. It is bounded
// by capacity and by a ttl window; both limits evict oldest-first.
type Cache struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	fifo     []stamped
	capacity int
	ttl      time.Duration
}

type stamped struct {
	key string
	at  time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		seen:     make(map[string]time.Time, capacity),
		fifo:     make([]stamped, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// IsSeen reports whether key was recorded inside the ttl window. It does
// not record the key; call MarkSeen once the article is actually indexed.
func (c *Cache) IsSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.seen[key]
	return ok && time.Since(at) <= c.ttl
}

// MarkSeen records that an article key has been indexed.
func (c *Cache) MarkSeen(key string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[key] = now
	c.fifo = append(c.fifo, stamped{key: key, at: now})
	c.evict(now)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) evict(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.fifo) > 0 && (len(c.seen) > c.capacity || c.fifo[0].at.Before(cutoff)) {
		oldest := c.fifo[0]
		c.fifo = c.fifo[1:]

		// A re-marked key has a fresher stamp in the map; keep it.
		if at, ok := c.seen[oldest.key]; ok && at.Equal(oldest.at) {
			delete(c.seen, oldest.key)
		}
	}
}

package models

import "time"

// Article is a single news item produced by ingestion. PublishedAt is kept
// as the raw feed string because many sources ship malformed dates.
type Article struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

// Payload is the subset of Article stored next to a vector in the index,
// plus the ingestion timestamp (unix seconds) used by the retention job.
type Payload struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Link        string  `json:"link"`
	PublishedAt string  `json:"published_at"`
	Source      string  `json:"source"`
	IngestedAt  float64 `json:"ingested_at"`
}

// IndexEntry is the unit handed to the vector store for upsert.
type IndexEntry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchHit is one similarity-search result, highest score first.
type SearchHit struct {
	Payload Payload
	Score   float64
}

// SourceRef is the citation metadata attached to an answer.
type SourceRef struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Source string `json:"source"`
}

// Answer is the per-query result handed to the chat layer.
type Answer struct {
	Response string      `json:"response"`
	Sources  []SourceRef `json:"sources"`
}

// ChatMessage is one entry in a session's history.
type ChatMessage struct {
	ID        string      `json:"id"`
	Message   string      `json:"message"`
	Sender    string      `json:"sender"`
	Type      string      `json:"type"`
	Sources   []SourceRef `json:"sources,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewPayload builds the index payload for an article ingested now.
func NewPayload(a Article, now time.Time) Payload {
	return Payload{
		Title:       a.Title,
		Content:     a.Content,
		Link:        a.Link,
		PublishedAt: a.PublishedAt,
		Source:      a.Source,
		IngestedAt:  float64(now.UTC().Unix()),
	}
}

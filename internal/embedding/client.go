package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls an OpenAI-style embeddings endpoint (Jina by default).
// It performs no retries itself; the ingestion pipeline retries transient
// failures per item and the query path treats any failure as fatal.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// Config configures the embeddings client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Error is a classified embedding failure. Status is zero for transport
// errors. Detail carries the provider's validation message when present
// (Jina returns a "detail" field on 422).
type Error struct {
	Status int
	Detail string
	cause  error
}

func (e *Error) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("embedding request: %v", e.cause)
	case e.Detail != "":
		return fmt.Sprintf("embedding request failed: status %d: %s", e.Status, e.Detail)
	default:
		return fmt.Sprintf("embedding request failed: status %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Transient reports whether the failure is worth retrying: rate limiting,
// provider-side errors, and transport failures (timeouts included).
func (e *Error) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500 || e.Status == 0
}

// New creates an embeddings client. Timeout defaults to 15s.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Embed converts text into a dense vector. Text must be non-empty; the
// caller combines title and content before calling.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("embed: empty text")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{cause: err}
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		var parsed embeddingResponse
		if json.Unmarshal(body, &parsed) == nil && len(parsed.Detail) > 0 {
			// Jina's validation detail may be a string or a structure.
			var detail string
			if json.Unmarshal(parsed.Detail, &detail) == nil {
				apiErr.Detail = detail
			} else {
				apiErr.Detail = string(parsed.Detail)
			}
		}
		return nil, apiErr
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Status: resp.StatusCode, cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, &Error{Status: resp.StatusCode, Detail: "response carries no embedding"}
	}

	return parsed.Data[0].Embedding, nil
}

package generation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"newsrag/internal/generation"
)

func TestGenerateReturnsFirstCandidate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"grounded answer"}]}}]}`))
	}))
	defer srv.Close()

	client := generation.New(generation.Config{BaseURL: srv.URL, Model: "gemini-2.0-flash", APIKey: "k"})
	text, err := client.Generate(context.Background(), "the prompt")
	require.NoError(t, err)
	require.Equal(t, "grounded answer", text)

	require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	require.Equal(t, "k", gotKey)

	contents := gotBody["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Equal(t, "the prompt", parts[0].(map[string]any)["text"])
}

func TestGenerateFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"key invalid"}}`))
	}))
	defer srv.Close()

	client := generation.New(generation.Config{BaseURL: srv.URL, Model: "m", APIKey: "k"})
	_, err := client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "key invalid")
}

func TestGenerateFailsOnMissingCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	client := generation.New(generation.Config{BaseURL: srv.URL, Model: "m", APIKey: "k"})
	_, err := client.Generate(context.Background(), "prompt")
	require.Error(t, err)
}

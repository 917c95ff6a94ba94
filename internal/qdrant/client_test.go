package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsrag/internal/models"
	"newsrag/internal/qdrant"
)

type recordingServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
}

func newRecordingServer(handler http.HandlerFunc) (*recordingServer, *httptest.Server) {
	rs := &recordingServer{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		rs.mu.Lock()
		rs.requests = append(rs.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: body})
		rs.mu.Unlock()
		rs.handler(w, r)
	}))
	return rs, srv
}

func (rs *recordingServer) recorded() []recordedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]recordedRequest(nil), rs.requests...)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	exists := false
	rs, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && !exists:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			exists = true
			_, _ = w.Write([]byte(`{"result":true}`))
		}
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	require.NoError(t, client.EnsureCollection(context.Background(), 768))

	reqs := rs.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodPut, reqs[1].method)
	require.Equal(t, "/collections/news_articles", reqs[1].path)

	vectors := reqs[1].body["vectors"].(map[string]any)
	require.Equal(t, float64(768), vectors["size"])
	require.Equal(t, "Cosine", vectors["distance"])

	// Second call must see the collection and create nothing.
	require.NoError(t, client.EnsureCollection(context.Background(), 768))
	reqs = rs.recorded()
	require.Len(t, reqs, 3)
	require.Equal(t, http.MethodGet, reqs[2].method)
}

func TestEnsureCollectionRejectsBadDimension(t *testing.T) {
	client := qdrant.New(qdrant.Config{URL: "http://unused", Collection: "c"}, nil)
	require.Error(t, client.EnsureCollection(context.Background(), 0))
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	rs, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	require.NoError(t, client.Upsert(context.Background(), nil))
	require.Empty(t, rs.recorded(), "empty batch must not hit the network")
}

func TestUpsertSendsPoints(t *testing.T) {
	rs, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	entries := []models.IndexEntry{
		{
			ID:     "id-1",
			Vector: []float32{0.5, 0.5},
			Payload: models.Payload{
				Title:  "A",
				Link:   "https://example.com/a",
				Source: "Feed",
			},
		},
	}
	require.NoError(t, client.Upsert(context.Background(), entries))

	reqs := rs.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPut, reqs[0].method)
	require.Equal(t, "/collections/news_articles/points", reqs[0].path)

	points := reqs[0].body["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	require.Equal(t, "id-1", point["id"])

	payload := point["payload"].(map[string]any)
	require.Equal(t, "A", payload["title"])
	require.Equal(t, "https://example.com/a", payload["link"])
}

func TestSearchReturnsOrderedHits(t *testing.T) {
	_, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.98,"payload":{"title":"first","link":"l1","source":"s1"}},
			{"score":0.75,"payload":{"title":"second","link":"l2","source":"s2"}}
		]}`))
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	hits, err := client.Search(context.Background(), []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "first", hits[0].Payload.Title)
	require.Equal(t, "second", hits[1].Payload.Title)
	require.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearchEmptyCollection(t *testing.T) {
	_, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":[]}`))
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	hits, err := client.Search(context.Background(), []float32{0.1}, 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchPropagatesStoreFailure(t *testing.T) {
	_, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	_, err := client.Search(context.Background(), []float32{0.1}, 5)
	require.Error(t, err)
}

func TestDeleteOlderThanBuildsRangeFilter(t *testing.T) {
	rs, srv := newRecordingServer(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	})
	defer srv.Close()

	client := qdrant.New(qdrant.Config{URL: srv.URL, Collection: "news_articles"}, nil)
	require.NoError(t, client.DeleteOlderThan(context.Background(), 24*time.Hour))

	reqs := rs.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "/collections/news_articles/points/delete", reqs[0].path)

	must := reqs[0].body["filter"].(map[string]any)["must"].([]any)
	cond := must[0].(map[string]any)
	require.Equal(t, "ingested_at", cond["key"])

	lt := cond["range"].(map[string]any)["lt"].(float64)
	wantCutoff := float64(time.Now().Add(-24 * time.Hour).Unix())
	require.InDelta(t, wantCutoff, lt, 5)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"newsrag/internal/config"
	"newsrag/internal/models"
	"newsrag/internal/rag"
)

type stubRAG struct {
	state   rag.State
	answer  *models.Answer
	err     error
	queries []string
}

func (s *stubRAG) State() rag.State { return s.state }

func (s *stubRAG) ProcessQuery(_ context.Context, query string) (*models.Answer, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.answer, nil
}

func (s *stubRAG) Refresh(_ context.Context) (*rag.Report, error) {
	return &rag.Report{}, nil
}

type stubSessions struct {
	saved map[string][]models.ChatMessage
	err   error
}

func (s *stubSessions) SaveMessage(_ context.Context, sessionID string, msg models.ChatMessage) error {
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string][]models.ChatMessage)
	}
	s.saved[sessionID] = append(s.saved[sessionID], msg)
	return nil
}

func (s *stubSessions) History(_ context.Context, sessionID string, _ int) ([]models.ChatMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.saved[sessionID], nil
}

func (s *stubSessions) Clear(_ context.Context, sessionID string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.saved, sessionID)
	return nil
}

func newTestServer(ragStub ragService, sessions sessionStore) *server {
	return &server{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:      &config.API{HistoryLimit: 50},
		rag:      ragStub,
		sessions: sessions,
	}
}

func postMessage(t *testing.T, srv *server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleMessage(w, req)
	return w
}

func TestHandleMessageReturnsTimestampedMessages(t *testing.T) {
	ragStub := &stubRAG{
		state: rag.StateReady,
		answer: &models.Answer{
			Response: "the markets rallied",
			Sources:  []models.SourceRef{{Title: "A", Link: "L", Source: "S"}},
		},
	}
	sessions := &stubSessions{}
	srv := newTestServer(ragStub, sessions)

	w := postMessage(t, srv, `{"sessionId":"s-1","message":"what happened?","sender":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserMessage models.ChatMessage `json:"userMessage"`
		BotMessage  models.ChatMessage `json:"botMessage"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	require.Equal(t, "what happened?", resp.UserMessage.Message)
	require.Equal(t, "user", resp.UserMessage.Type)
	require.False(t, resp.UserMessage.Timestamp.IsZero())

	require.Equal(t, "the markets rallied", resp.BotMessage.Message)
	require.Equal(t, "bot", resp.BotMessage.Type)
	require.Len(t, resp.BotMessage.Sources, 1)
	require.False(t, resp.BotMessage.Timestamp.IsZero())

	// Both sides of the exchange are persisted.
	require.Len(t, sessions.saved["s-1"], 2)
	require.Equal(t, []string{"what happened?"}, ragStub.queries)
}

func TestHandleMessageWhileIngesting(t *testing.T) {
	ragStub := &stubRAG{state: rag.StateIngesting, err: rag.ErrNotInitialized}
	srv := newTestServer(ragStub, &stubSessions{})

	w := postMessage(t, srv, `{"sessionId":"s-1","message":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleMessageRejectsBadInput(t *testing.T) {
	srv := newTestServer(&stubRAG{state: rag.StateReady}, &stubSessions{})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing session", body: `{"message":"hi"}`},
		{name: "blank message", body: `{"sessionId":"s-1","message":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postMessage(t, srv, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleMessageSurvivesDeadSessionStore(t *testing.T) {
	ragStub := &stubRAG{state: rag.StateReady, answer: &models.Answer{Response: "ok"}}
	srv := newTestServer(ragStub, &stubSessions{err: errors.New("redis down")})

	w := postMessage(t, srv, `{"sessionId":"s-1","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRefreshRequiresReadyState(t *testing.T) {
	srv := newTestServer(&stubRAG{state: rag.StateIngesting}, &stubSessions{})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/refresh", nil)
	w := httptest.NewRecorder()
	srv.handleRefresh(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"newsrag/internal/config"
	"newsrag/internal/dedupe"
	"newsrag/internal/embedding"
	"newsrag/internal/feeds"
	"newsrag/internal/generation"
	"newsrag/internal/logger"
	"newsrag/internal/models"
	"newsrag/internal/qdrant"
	"newsrag/internal/rag"
	"newsrag/internal/session"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("api")
	cfg, err := config.LoadAPI()
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

	generator := generation.New(generation.Config{
		BaseURL: cfg.GenerationBaseURL,
		Model:   cfg.GenerationModel,
		APIKey:  cfg.GenerationAPIKey,
		Timeout: cfg.GenerationTimeout,
	})

	svc := rag.NewService(
		embedder,
		index,
		generator,
		feeds.New(cfg.FeedTimeout),
		dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		log,
		rag.Options{
			Dimension:       cfg.EmbeddingDimension,
			Sources:         cfg.FeedSources,
			SourceItemLimit: cfg.FeedItemLimit,
			SearchLimit:     cfg.SearchLimit,
			EmbedInterval:   cfg.EmbedInterval,
		},
	)

	sessions, err := session.New(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Error("init session store", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := sessions.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, history endpoints will fail until it recovers", slog.Any("err", err))
	}
	cancel()

	// Collection setup failure is fatal: an unusable index makes the whole
	// service useless. Queries return 503 until the first run finishes.
	go func() {
		report, err := svc.Initialize(ctx)
		if err != nil {
			log.Error("initialize rag service", slog.Any("err", err))
			stop()
			os.Exit(1)
		}
		log.Info("rag service ready", slog.Int("ingested", report.Ingested))
	}()

	srv := &server{log: log, cfg: cfg, rag: svc, sessions: sessions, index: index}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))

	r.Get("/health", srv.handleHealth)
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/session", srv.handleNewSession)
		r.Get("/session/{sessionID}/history", srv.handleHistory)
		r.Delete("/session/{sessionID}", srv.handleClearSession)
		r.Post("/message", srv.handleMessage)
	})
	r.Post("/api/ingest/refresh", srv.handleRefresh)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type ragService interface {
	State() rag.State
	ProcessQuery(ctx context.Context, query string) (*models.Answer, error)
	Refresh(ctx context.Context) (*rag.Report, error)
}

type sessionStore interface {
	SaveMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error
	History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

type indexHealth interface {
	Health(ctx context.Context) error
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	rag      ragService
	sessions sessionStore
	index    indexHealth
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.index.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.rag.State().String(),
	})
}

func (s *server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": uuid.NewString()})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sessionID := chi.URLParam(r, "sessionID")
	history, err := s.sessions.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Error("get history", slog.String("session", sessionID), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to get session history"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		s.log.Error("clear session", slog.String("session", sessionID), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to clear session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session cleared successfully"})
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId and message are required"})
		return
	}

	userMessage := models.ChatMessage{
		ID:        uuid.NewString(),
		Message:   req.Message,
		Sender:    req.Sender,
		Type:      "user",
		Timestamp: time.Now().UTC(),
	}
	// History persistence is best-effort; a dead Redis must not kill chat.
	if err := s.sessions.SaveMessage(ctx, req.SessionID, userMessage); err != nil {
		s.log.Warn("save user message", slog.Any("err", err))
	}

	answer, err := s.rag.ProcessQuery(ctx, req.Message)
	if err != nil {
		if errors.Is(err, rag.ErrNotInitialized) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Service is still ingesting news, try again shortly"})
			return
		}
		s.log.Error("process query", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to process message"})
		return
	}

	botMessage := models.ChatMessage{
		ID:        uuid.NewString(),
		Message:   answer.Response,
		Sender:    "bot",
		Type:      "bot",
		Sources:   answer.Sources,
		Timestamp: time.Now().UTC(),
	}
	if err := s.sessions.SaveMessage(ctx, req.SessionID, botMessage); err != nil {
		s.log.Warn("save bot message", slog.Any("err", err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userMessage": userMessage,
		"botMessage":  botMessage,
	})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.rag.State() != rag.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Service is not ready"})
		return
	}

	// An ingestion run can take minutes with pacing; report via logs.
	// Duplicate triggers are harmless, the dedup cache drops repeats.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.rag.Refresh(ctx); err != nil {
			s.log.Error("refresh ingestion", slog.Any("err", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}

// Package api exposes the HTTP, WebSocket and MCP surfaces of the study
// assistant.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drleelm/drleelm/internal/answer"
	"github.com/drleelm/drleelm/internal/config"
	"github.com/drleelm/drleelm/internal/document"
	"github.com/drleelm/drleelm/internal/jobs"
	"github.com/drleelm/drleelm/internal/notes"
	"github.com/drleelm/drleelm/internal/provider"
	"github.com/drleelm/drleelm/internal/realtime"
	"github.com/drleelm/drleelm/internal/retrieval"
	"github.com/drleelm/drleelm/internal/storage"
)

const maxRequestBodySize = 4 << 20 // 4MB, room for pasted document text

// Answerer produces one completion.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (string, error)
}

// RAG is the retrieval surface used by the search and collection routes.
type RAG interface {
	Search(ctx context.Context, query, ns string, k int) []retrieval.Passage
	Documents(ns string) ([]retrieval.Document, error)
	SaveDocuments(ctx context.Context, ns string, docs []retrieval.Document) error
}

// Deps holds everything the handlers need.
type Deps struct {
	Settings   *config.Settings
	Jobs       *jobs.Tracker
	Hub        *realtime.Hub
	Answerer   Answerer
	Notes      *notes.Generator
	Resolver   *document.Resolver
	RAG        RAG
	Store      *storage.Store
	StorageDir string
	Version    string
	Logger     *slog.Logger

	// ListModels and AllModels default to the provider package functions.
	ListModels func(ctx context.Context, cfg config.Config, name, kind string) ([]provider.ModelInfo, error)
	AllModels  func(ctx context.Context, cfg config.Config) map[string][]provider.ModelInfo
}

// Handler serves every route and owns the background jobs it starts.
type Handler struct {
	Deps
	// jobCtx is the parent of every background job; jobs outlive requests.
	jobCtx  context.Context
	running sync.WaitGroup
	router  chi.Router
}

// NewHandler builds the router. Background jobs started by the handler run
// under ctx, which should only be cancelled at process exit.
func NewHandler(ctx context.Context, deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ListModels == nil {
		deps.ListModels = provider.ListModels
	}
	if deps.AllModels == nil {
		deps.AllModels = provider.AllModels
	}
	h := &Handler{Deps: deps, jobCtx: ctx}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", h.handleHealth)
	r.Get("/api/version", h.handleVersion)

	r.Post("/submit", h.handleSubmit)
	r.Post("/api/companion/submit", h.handleCompanionSubmit)
	r.Post("/api/companion/stream", h.handleCompanionSubmit)
	r.Post("/api/companion/ask", h.handleCompanionAsk)
	r.Post("/smartnotes", h.handleSmartNotes)
	r.Get("/status/{id}", h.handleStatus)
	r.Get("/smartnotes/{id}/status", h.handleStatus)
	r.Get("/ws/{topic}", h.handleWS)

	r.Get("/api/search", h.handleSearch)
	r.Get("/api/rag/{ns}/documents", h.handleListDocuments)
	r.Post("/api/rag/{ns}/documents", h.handleSaveDocuments)

	r.Get("/api/settings", h.handleGetSettings)
	r.Post("/api/settings", h.handleUpdateSettings)
	r.Delete("/api/settings/{key}", h.handleRevertSetting)
	r.Get("/api/models", h.handleAllModels)
	r.Get("/api/models/{provider}", h.handleProviderModels)

	r.Get("/api/chats", h.handleListChats)
	r.Get("/api/chats/{id}", h.handleGetChat)
	r.Delete("/api/chats/{id}", h.handleDeleteChat)
	r.Get("/api/flashcards", h.handleListFlashcards)
	r.Post("/api/flashcards", h.handleCreateFlashcard)
	r.Delete("/api/flashcards/{id}", h.handleDeleteFlashcard)

	if deps.StorageDir != "" {
		fs := http.StripPrefix("/storage/", http.FileServer(http.Dir(deps.StorageDir)))
		r.Get("/storage/*", fs.ServeHTTP)
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Wait blocks until every background job has finished.
func (h *Handler) Wait() {
	h.running.Wait()
}

// cors allows any origin, as the browser client may be served from a
// different port than the API.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	cfg := h.Settings.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  h.Version,
		"name":     provider.AppTitle,
		"provider": provider.ChatProviderName(cfg),
		"model":    cfg.ChatModel(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{"error": fmt.Sprintf(format, args...)})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

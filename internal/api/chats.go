package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/drleelm/drleelm/internal/storage"
)

const defaultListLimit = 50

func listLimit(r *http.Request) int {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	return limit
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Store.ListChats(listLimit(r))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list chats: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, msgs, err := h.Store.GetChat(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to get chat: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "messages": msgs})
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteChat(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to delete chat: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListFlashcards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Store.ListFlashcards(r.URL.Query().Get("tag"), listLimit(r))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list flashcards: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

type flashcardRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Tag      string `json:"tag"`
	Source   string `json:"source"`
}

func (h *Handler) handleCreateFlashcard(w http.ResponseWriter, r *http.Request) {
	var req flashcardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	req.Answer = strings.TrimSpace(req.Answer)
	if req.Question == "" || req.Answer == "" {
		httpError(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	card, err := h.Store.SaveFlashcard(storage.Flashcard{
		ID:       uuid.NewString(),
		Question: req.Question,
		Answer:   req.Answer,
		Tag:      strings.TrimSpace(req.Tag),
		Source:   strings.TrimSpace(req.Source),
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save flashcard: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (h *Handler) handleDeleteFlashcard(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteFlashcard(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "flashcard not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to delete flashcard: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

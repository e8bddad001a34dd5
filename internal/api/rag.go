package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drleelm/drleelm/internal/retrieval"
)

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := h.RAG.Search(r.Context(), q.Get("q"), q.Get("ns"), queryInt(r, "k", 0))
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.RAG.Documents(chi.URLParam(r, "ns"))
	if errors.Is(err, retrieval.ErrInvalidNamespace) {
		httpError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

type saveDocumentsRequest struct {
	Documents []retrieval.Document `json:"documents"`
}

// handleSaveDocuments replaces a namespace collection. The body is either a
// bare array of documents or {"documents": [...]}.
func (h *Handler) handleSaveDocuments(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}
	var req saveDocumentsRequest
	var err error
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &req.Documents)
	} else {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid documents: %v", err)
		return
	}
	ns := chi.URLParam(r, "ns")
	err = h.RAG.SaveDocuments(r.Context(), ns, req.Documents)
	if errors.Is(err, retrieval.ErrInvalidNamespace) {
		httpError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}
	if err != nil {
		h.Logger.Error("saving documents failed", "namespace", ns, "error", err)
		httpError(w, http.StatusBadGateway, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "namespace": ns, "count": len(req.Documents)})
}

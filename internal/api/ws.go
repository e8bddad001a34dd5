package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

var topics = map[string]bool{
	TopicAnswer:     true,
	TopicCompanion:  true,
	TopicSmartNotes: true,
}

// handleWS subscribes to a job's frames. The id may be passed as id,
// sessionId or noteId.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !topics[topic] {
		httpError(w, http.StatusNotFound, "unknown topic %q", topic)
		return
	}
	q := r.URL.Query()
	id := q.Get("id")
	for _, alt := range []string{"sessionId", "noteId"} {
		if id == "" {
			id = q.Get(alt)
		}
	}
	if id == "" {
		httpError(w, http.StatusBadRequest, "id required")
		return
	}
	h.Hub.ServeWS(w, r, topic, id)
}

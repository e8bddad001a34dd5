package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/drleelm/drleelm/internal/answer"
	"github.com/drleelm/drleelm/internal/document"
	"github.com/drleelm/drleelm/internal/jobs"
	"github.com/drleelm/drleelm/internal/notes"
	"github.com/drleelm/drleelm/internal/provider"
	"github.com/drleelm/drleelm/internal/realtime"
	"github.com/drleelm/drleelm/internal/storage"
)

// Subscription topics.
const (
	TopicAnswer     = "answer"
	TopicCompanion  = "companion"
	TopicSmartNotes = "smartnotes"
)

const chatHistoryLimit = 20

type SubmitRequest struct {
	Question      string        `json:"question"`
	Context       string        `json:"context"`
	DocumentText  string        `json:"documentText"`
	FilePath      string        `json:"filePath"`
	DocumentTitle string        `json:"documentTitle"`
	Topic         string        `json:"topic"`
	History       []answer.Turn `json:"history"`
	Namespace     string        `json:"namespace"`
	ChatID        string        `json:"chatId"`
}

type SubmitResponse struct {
	JobID     string `json:"jobId"`
	NoteID    string `json:"noteId,omitempty"`
	Subscribe string `json:"subscribe"`
}

type answerResult struct {
	Answer string `json:"answer"`
}

// validationError carries the HTTP status for a rejected request.
type validationError struct {
	status int
	msg    string
}

func (e *validationError) Error() string { return e.msg }

func invalid(status int, msg string) error {
	return &validationError{status: status, msg: msg}
}

func writeValidation(w http.ResponseWriter, err error) {
	var ve *validationError
	if errors.As(err, &ve) {
		httpError(w, ve.status, "%s", ve.msg)
		return
	}
	httpError(w, http.StatusInternalServerError, "%s", err.Error())
}

// documentError maps document read failures to request errors.
func documentError(err error) error {
	switch {
	case errors.Is(err, document.ErrNotFound):
		return invalid(http.StatusNotFound, err.Error())
	case errors.Is(err, document.ErrTooLarge):
		return invalid(http.StatusBadRequest, err.Error())
	case errors.Is(err, document.ErrEmpty):
		return invalid(http.StatusBadRequest, err.Error())
	}
	return invalid(http.StatusBadRequest, err.Error())
}

// buildRequest validates a submit body. requireDocument is set for the
// companion routes, which only answer from supplied material.
func (h *Handler) buildRequest(req SubmitRequest, requireDocument bool) (answer.Request, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return answer.Request{}, invalid(http.StatusBadRequest, "question required")
	}

	out := answer.Request{
		Question:  question,
		History:   req.History,
		Topic:     strings.TrimSpace(req.Topic),
		Namespace: strings.TrimSpace(req.Namespace),
		Label:     strings.TrimSpace(req.DocumentTitle),
	}

	switch {
	case strings.TrimSpace(req.Context) != "":
		out.Context = req.Context
	case strings.TrimSpace(req.DocumentText) != "":
		out.Context = req.DocumentText
	case strings.TrimSpace(req.FilePath) != "":
		doc, err := h.Resolver.Load(req.FilePath)
		if err != nil {
			return answer.Request{}, documentError(err)
		}
		out.Context = doc.Text
		out.Label = doc.Name
	case requireDocument:
		return answer.Request{}, invalid(http.StatusBadRequest, "documentText or filePath required")
	}

	if requireDocument {
		out.SystemPrompt = answer.BaseSystemPrompt + "\n\n" + answer.ContextFocus(out.Label)
		out.Namespace = ""
	}

	if len(out.History) == 0 && req.ChatID != "" && h.Store != nil {
		msgs, err := h.Store.ChatMessages(req.ChatID, chatHistoryLimit)
		if err != nil {
			h.Logger.Warn("loading chat history failed", "chat_id", req.ChatID, "error", err)
		}
		for _, m := range msgs {
			out.History = append(out.History, answer.Turn{Role: m.Role, Content: m.Content})
		}
	}
	return out, nil
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ar, err := h.buildRequest(req, false)
	if err != nil {
		writeValidation(w, err)
		return
	}
	h.submitAnswer(w, TopicAnswer, ar, strings.TrimSpace(req.ChatID))
}

func (h *Handler) handleCompanionSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ar, err := h.buildRequest(req, true)
	if err != nil {
		writeValidation(w, err)
		return
	}
	h.submitAnswer(w, TopicCompanion, ar, strings.TrimSpace(req.ChatID))
}

func (h *Handler) submitAnswer(w http.ResponseWriter, topic string, ar answer.Request, chatID string) {
	id := uuid.NewString()
	h.Jobs.Create(id)
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:     id,
		Subscribe: fmt.Sprintf("/ws/%s?id=%s", topic, id),
	})

	h.runJob(topic, id, func(ctx context.Context) (any, realtime.Message, error) {
		text, err := h.Answerer.Answer(ctx, ar)
		if err != nil {
			return nil, realtime.Message{}, err
		}
		if chatID != "" {
			h.saveTurns(chatID, ar.Question, text)
		}
		return answerResult{Answer: text}, realtime.Answer(id, text), nil
	})
}

func (h *Handler) handleCompanionAsk(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ar, err := h.buildRequest(req, true)
	if err != nil {
		writeValidation(w, err)
		return
	}

	text, err := h.Answerer.Answer(r.Context(), ar)
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			httpError(w, http.StatusBadGateway, "%s", err.Error())
			return
		}
		h.Logger.Error("companion ask failed", "error", err)
		httpError(w, http.StatusInternalServerError, "failed to run companion request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "companion": text})
}

func (h *Handler) handleSmartNotes(w http.ResponseWriter, r *http.Request) {
	var in notes.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	req, err := h.Notes.Prepare(in)
	if err != nil {
		if errors.Is(err, notes.ErrNoInput) {
			httpError(w, http.StatusBadRequest, "%s", err.Error())
			return
		}
		writeValidation(w, documentError(err))
		return
	}

	id := uuid.NewString()
	h.Jobs.Create(id)
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:     id,
		NoteID:    id,
		Subscribe: fmt.Sprintf("/ws/%s?id=%s", TopicSmartNotes, id),
	})

	h.runJob(TopicSmartNotes, id, func(ctx context.Context) (any, realtime.Message, error) {
		res, err := h.Notes.Generate(ctx, id, req)
		if err != nil {
			return nil, realtime.Message{}, err
		}
		return res, realtime.NoteDone(id, res.File), nil
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobFunc does the work of a job and returns the result to record plus the
// terminal frame to push.
type jobFunc func(ctx context.Context) (any, realtime.Message, error)

// runJob executes fn in the background. The job state is recorded before
// any frame is pushed, so a client that polls after a push always sees the
// final state. Panics end the job in the error state.
func (h *Handler) runJob(topic, id string, fn jobFunc) {
	h.running.Add(1)
	go func() {
		defer h.running.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.Logger.Error("job panicked", "topic", topic, "job_id", id, "panic", rec)
				h.fail(topic, id, "internal error")
			}
		}()

		if err := h.Jobs.SetRunning(id); err != nil {
			h.Logger.Warn("job vanished before start", "job_id", id, "error", err)
			return
		}
		h.Hub.Emit(topic, id, realtime.Thinking(id))

		result, msg, err := fn(h.jobCtx)
		if err != nil {
			h.Logger.Warn("job failed", "topic", topic, "job_id", id, "error", err)
			h.fail(topic, id, err.Error())
			return
		}
		if err := h.Jobs.SetDone(id, result); err != nil {
			h.Logger.Warn("recording job result failed", "job_id", id, "error", err)
			return
		}
		n := h.Hub.Emit(topic, id, msg)
		h.Logger.Debug("job done", "topic", topic, "job_id", id, "subscribers", n)
	}()
}

func (h *Handler) fail(topic, id, msg string) {
	if err := h.Jobs.SetError(id, msg); err != nil {
		return
	}
	h.Hub.Emit(topic, id, realtime.Failed(id, msg))
}

func (h *Handler) saveTurns(chatID, question, reply string) {
	if h.Store == nil {
		return
	}
	err := h.Store.AppendMessages(chatID, chatTitle(question),
		storage.ChatMessage{Role: "user", Content: question},
		storage.ChatMessage{Role: "assistant", Content: reply},
	)
	if err != nil {
		h.Logger.Warn("saving chat turns failed", "chat_id", chatID, "error", err)
	}
}

func chatTitle(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(q) > 60 {
		runes := []rune(q)
		q = string(runes[:60]) + "..."
	}
	return q
}

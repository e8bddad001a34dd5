package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/drleelm/drleelm/internal/config"
	"github.com/drleelm/drleelm/internal/provider"
)

func (h *Handler) writeSettings(w http.ResponseWriter) {
	byKey, byCategory := h.Settings.View()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"settings":   byKey,
		"categories": byCategory,
	})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeSettings(w)
}

type updateSettingsRequest struct {
	Settings map[string]any `json:"settings"`
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Settings == nil {
		httpError(w, http.StatusBadRequest, "settings object required")
		return
	}
	if err := h.Settings.Update(req.Settings); err != nil {
		if errors.Is(err, config.ErrInvalidValue) {
			httpError(w, http.StatusBadRequest, "%s", err.Error())
			return
		}
		h.Logger.Error("saving settings failed", "error", err)
		httpError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	h.Logger.Info("settings updated", "keys", len(req.Settings))
	h.writeSettings(w)
}

func (h *Handler) handleRevertSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !slices.Contains(config.ValidKeys(), key) {
		httpError(w, http.StatusNotFound, "unknown setting %q", key)
		return
	}
	if err := h.Settings.Revert(key); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to revert setting")
		return
	}
	h.writeSettings(w)
}

func (h *Handler) handleAllModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.AllModels(r.Context(), h.Settings.Config()))
}

func (h *Handler) handleProviderModels(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	kind := provider.KindChat
	if r.URL.Query().Get("type") == provider.KindEmbedding {
		kind = provider.KindEmbedding
	}
	models, err := h.ListModels(r.Context(), h.Settings.Config(), name, kind)
	if err != nil {
		httpError(w, http.StatusNotFound, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": name,
		"type":     kind,
		"models":   models,
	})
}

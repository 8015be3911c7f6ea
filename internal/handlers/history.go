package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryResponse is the channel history payload, newest first.
type HistoryResponse struct {
	ChannelID string           `json:"channelId"`
	Messages  []models.Message `json:"messages"`
}

// ChannelMessages handles GET /channels/{id}/messages (authenticated).
// The Redis cache is consulted first; on a miss or error the durable store
// answers.
func (h *Handler) ChannelMessages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if channelID == "" {
		h.Error(w, http.StatusBadRequest, "channel id is required")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = n
	}

	if h.history != nil {
		if messages, err := h.history.ChannelMessages(r.Context(), channelID, limit, before); err == nil && len(messages) > 0 {
			h.JSON(w, http.StatusOK, HistoryResponse{ChannelID: channelID, Messages: messages})
			return
		}
	}

	messages, err := h.store.ChannelMessages(r.Context(), channelID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channelID).Msg("history query failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, HistoryResponse{ChannelID: channelID, Messages: messages})
}

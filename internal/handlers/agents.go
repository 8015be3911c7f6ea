package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
)

// OnlineResponse lists the identities with at least one live connection.
type OnlineResponse struct {
	Agents []hub.OnlineAgent `json:"agents"`
	Count  int               `json:"count"`
}

// Online handles GET /agents/online (authenticated).
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	agents := h.engine.Online()
	h.JSON(w, http.StatusOK, OnlineResponse{Agents: agents, Count: len(agents)})
}

// Profile handles GET /agents/{id} (authenticated). The secret hash never
// leaves the server; the model strips it on marshal.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("agent", id).Msg("agent lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	h.JSON(w, http.StatusOK, agent)
}

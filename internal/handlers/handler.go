package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/store"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	log     zerolog.Logger
	store   store.Store
	history *store.RedisHistory // optional, may be nil
	tokens  *token.Service
	engine  *hub.Engine
}

// NewHandler creates a new Handler with the given collaborators.
func NewHandler(log zerolog.Logger, st store.Store, history *store.RedisHistory, tokens *token.Service, engine *hub.Engine) *Handler {
	return &Handler{
		log:     log,
		store:   st,
		history: history,
		tokens:  tokens,
		engine:  engine,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

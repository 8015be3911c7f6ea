package handlers

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/metrics"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

// TokenRequest is the credential-exchange request body.
type TokenRequest struct {
	AgentID string `json:"agent_id"`
	Secret  string `json:"secret"`
}

// TokenResponse carries the issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Token handles POST /auth/token: exchanges an agent's shared secret for
// an access/refresh token pair. Unknown agent and secret mismatch are
// indistinguishable to the caller.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" || req.Secret == "" {
		h.Error(w, http.StatusBadRequest, "agent_id and secret are required")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		h.log.Error().Err(err).Str("agent", req.AgentID).Msg("agent lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agent == nil || bcrypt.CompareHashAndPassword([]byte(agent.SecretHash), []byte(req.Secret)) != nil {
		metrics.AuthFailures.WithLabelValues("token").Inc()
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ident := token.Identity{
		AgentID:  agent.ID,
		OrgID:    agent.OrgID,
		Name:     agent.Name,
		Category: agent.Category,
	}

	access, err := h.tokens.IssueAccessToken(ident)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	refresh, err := h.tokens.IssueRefreshToken(ident)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, TokenResponse{AccessToken: access, RefreshToken: refresh})
}

// RefreshRequest is the refresh request body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the newly minted access token.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Refresh handles POST /auth/refresh: mints a new access token from a
// valid refresh token. The refresh token itself is not rotated.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		h.Error(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	access, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("refresh").Inc()
		h.Error(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	h.JSON(w, http.StatusOK, RefreshResponse{AccessToken: access})
}

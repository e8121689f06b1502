package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/infra/config"
	pkgauth "github.com/archiva-labs/archiva/pkg/auth"
)

// TokenHandler issues JWTs to configured API clients.
type TokenHandler struct {
	clients map[string]string // client id -> bcrypt secret hash
	logger  *zap.Logger
}

// NewTokenHandler creates a TokenHandler from the configured client list.
func NewTokenHandler(clients []config.ClientConfig, logger *zap.Logger) *TokenHandler {
	m := make(map[string]string, len(clients))
	for _, c := range clients {
		m[c.ID] = c.SecretHash
	}
	return &TokenHandler{clients: m, logger: logger}
}

// TokenRequest is the POST /auth/token body.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse carries the issued token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// IssueToken handles POST /auth/token. Unknown clients and bad secrets get
// the same response, so the endpoint does not confirm client ids.
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, codeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, r, codeInvalidRequest, "client_id and client_secret are required")
		return
	}

	hash, ok := h.clients[req.ClientID]
	if !ok || !pkgauth.VerifySecret(hash, req.ClientSecret) {
		h.logger.Info("token request rejected", zap.String("client_id", req.ClientID))
		writeError(w, r, codeUnauthorized, "invalid client credentials")
		return
	}

	token, err := pkgauth.GenerateJWT(req.ClientID)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		writeError(w, r, codeInternal, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, TokenType: "Bearer"})
}

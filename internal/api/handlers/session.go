package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
	"github.com/archiva-labs/archiva/internal/domain/session"
)

// SessionHandler exposes the read side of conversational state.
type SessionHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{orch: orch, logger: logger}
}

// SessionResponse is the GET /api/v1/sessions/{id} body.
type SessionResponse struct {
	ID           string         `json:"id"`
	Language     string         `json:"language"`
	Turns        []session.Turn `json:"turns"`
	TurnCount    int            `json:"turn_count"`
	LastActivity time.Time      `json:"last_activity"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, r, codeInvalidRequest, "session id is required")
		return
	}

	sess, err := h.orch.Session(r.Context(), id)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		ID:           sess.ID,
		Language:     sess.Language,
		Turns:        sess.Turns,
		TurnCount:    sess.TurnCount,
		LastActivity: sess.LastActivity,
		CreatedAt:    sess.CreatedAt,
	})
}

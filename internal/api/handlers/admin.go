package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/api/ctxkeys"
	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
)

// AdminHandler exposes operational endpoints for index maintenance.
type AdminHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{orch: orch, logger: logger}
}

// Reindexed handles POST /api/v1/admin/reindexed. The ingest pipeline calls
// it after a document batch lands in the index; cached retrieval results are
// stale from that point and get purged wholesale.
func (h *AdminHandler) Reindexed(w http.ResponseWriter, r *http.Request) {
	h.orch.InvalidateRetrievalCache()
	h.logger.Info("retrieval cache purged after reindex",
		zap.String("client_id", ctxkeys.Value(r.Context(), ctxkeys.ClientID)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cache_invalidated"})
}

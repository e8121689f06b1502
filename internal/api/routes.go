// Route registration and go-chi router setup: public routes (/health,
// /auth/token) and JWT-protected routes (/api/v1/*).
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/api/handlers"
	apmiddleware "github.com/archiva-labs/archiva/internal/api/middleware"
	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
	"github.com/archiva-labs/archiva/internal/infra/config"
	"github.com/archiva-labs/archiva/internal/version"
)

// Deps carries the wired services the router serves.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Clients      []config.ClientConfig
	Logger       *zap.Logger
}

// NewRouter creates and configures the chi router with all routes.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	// Health check, unauthenticated, used by load balancers and probes.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`)) //nolint:errcheck
	})

	// Token issuance is the only other public endpoint.
	tokenHandler := handlers.NewTokenHandler(deps.Clients, deps.Logger)
	r.Post("/auth/token", tokenHandler.IssueToken)

	// Everything under /api/v1 requires a valid Bearer JWT.
	queryHandler := handlers.NewQueryHandler(deps.Orchestrator, deps.Logger)
	sessionHandler := handlers.NewSessionHandler(deps.Orchestrator, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Orchestrator, deps.Logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.Auth)

		r.Post("/query", queryHandler.Answer)              // POST /api/v1/query (batch or SSE)
		r.Get("/sessions/{id}", sessionHandler.GetSession) // GET /api/v1/sessions/{id}
		r.Post("/admin/reindexed", adminHandler.Reindexed) // POST /api/v1/admin/reindexed
	})

	return r
}

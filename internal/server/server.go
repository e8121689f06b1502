// HTTP server lifecycle: startup, graceful shutdown, resource teardown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/api"
	"github.com/archiva-labs/archiva/internal/infra/config"
)

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	cfg    config.ServerConfig
	db     *sql.DB
	http   *http.Server
	logger *zap.Logger
}

// New creates the HTTP server over the wired router.
func New(cfg config.ServerConfig, deps api.Deps, db *sql.DB, logger *zap.Logger) *Server {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{cfg: cfg, db: db, http: httpServer, logger: logger}
}

// Start serves until Shutdown is called. http.ErrServerClosed is the normal
// exit and is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the session database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("server: close db: %w", err)
	}
	return nil
}

package server

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/api"
	"github.com/archiva-labs/archiva/internal/infra/config"
	"github.com/archiva-labs/archiva/internal/infra/sqlite"
)

func TestNew_ConfiguresAddressAndHandler(t *testing.T) {
	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("sqlite.NewDB error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("sqlite.MigrateUp error = %v", err)
	}

	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         18080,
		ReadTimeout:  time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  3 * time.Second,
	}
	s := New(cfg, api.Deps{Logger: zap.NewNop()}, db, zap.NewNop())

	if s.http == nil {
		t.Fatal("server.http should not be nil")
	}
	if s.http.Addr != "127.0.0.1:18080" {
		t.Fatalf("Addr = %q; want %q", s.http.Addr, "127.0.0.1:18080")
	}
	if s.http.Handler == nil {
		t.Fatal("Handler should not be nil")
	}
	if s.http.ReadTimeout != time.Second {
		t.Fatalf("ReadTimeout = %v; want 1s", s.http.ReadTimeout)
	}
}

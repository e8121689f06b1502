package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
)

func getSession(h *SessionHandler, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.GetSession(rec, req)
	return rec
}

func TestGetSession(t *testing.T) {
	orch := newTestOrchestrator(t, &stubSearcher{chunks: archiveChunks()}, "The archive was established in 1923 [1].")

	ans, err := orch.Ask(context.Background(), orchestrator.Request{
		Query:    "When was the archive established?",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	h := NewSessionHandler(orch, zap.NewNop())
	rec := getSession(h, ans.SessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != ans.SessionID || len(resp.Turns) != 2 {
		t.Errorf("session = %s with %d turns, want %s with 2", resp.ID, len(resp.Turns), ans.SessionID)
	}
	if resp.Turns[1].Role != "assistant" || !strings.Contains(resp.Turns[1].Content, "1923") {
		t.Errorf("assistant turn = %+v", resp.Turns[1])
	}
}

func TestGetSession_NotFound(t *testing.T) {
	orch := newTestOrchestrator(t, &stubSearcher{chunks: archiveChunks()}, "x")
	h := NewSessionHandler(orch, zap.NewNop())

	rec := getSession(h, "no-such-session")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "SESSION_NOT_FOUND" {
		t.Errorf("code = %s, want SESSION_NOT_FOUND", resp.Code)
	}
}

func TestReindexed(t *testing.T) {
	orch := newTestOrchestrator(t, &stubSearcher{chunks: archiveChunks()}, "x")
	h := NewAdminHandler(orch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reindexed", nil)
	rec := httptest.NewRecorder()
	h.Reindexed(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

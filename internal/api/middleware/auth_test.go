package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/archiva-labs/archiva/internal/api/ctxkeys"
	pkgauth "github.com/archiva-labs/archiva/pkg/auth"
)

func TestAuth_ValidTokenInjectsClientID(t *testing.T) {
	t.Setenv("ARCHIVA_JWT_SECRET", "test-secret")

	token, err := pkgauth.GenerateJWT("ingest-worker")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	var gotClient string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClient = ctxkeys.Value(r.Context(), ctxkeys.ClientID)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Auth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotClient != "ingest-worker" {
		t.Errorf("client id = %q, want ingest-worker", gotClient)
	}
}

func TestAuth_Rejections(t *testing.T) {
	t.Setenv("ARCHIVA_JWT_SECRET", "test-secret")

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty token", header: "Bearer "},
		{name: "garbage token", header: "Bearer not.a.jwt"},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without valid token")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer  abc123 ")
	if got := extractBearerToken(req); got != "abc123" {
		t.Errorf("extractBearerToken = %q, want abc123", got)
	}
}

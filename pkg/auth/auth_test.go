package auth

import (
	"testing"
	"time"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("s3cret-value")
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}
	if hash == "s3cret-value" {
		t.Fatal("hash must not equal plaintext")
	}
	if !VerifySecret(hash, "s3cret-value") {
		t.Error("expected matching secret to verify")
	}
	if VerifySecret(hash, "wrong") {
		t.Error("expected non-matching secret to fail")
	}
}

func TestVerifySecret_InvalidHash(t *testing.T) {
	if VerifySecret("not-a-bcrypt-hash", "anything") {
		t.Error("expected invalid hash to fail verification, not error")
	}
}

func TestGenerateAndParseJWT(t *testing.T) {
	t.Setenv("ARCHIVA_JWT_SECRET", "test-secret")

	token, err := GenerateJWT("client-1")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want %q", claims.ClientID, "client-1")
	}
	if claims.ExpiresAt.Time.Before(time.Now()) {
		t.Error("token expired immediately after generation")
	}
}

func TestParseJWT_Empty(t *testing.T) {
	t.Setenv("ARCHIVA_JWT_SECRET", "test-secret")
	if _, err := ParseJWT(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	t.Setenv("ARCHIVA_JWT_SECRET", "secret-a")
	token, err := GenerateJWT("client-1")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	t.Setenv("ARCHIVA_JWT_SECRET", "secret-b")
	if _, err := ParseJWT(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestParseTokenExpiry(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "empty uses default", in: "", want: 24 * time.Hour},
		{name: "invalid uses default", in: "abc", want: 24 * time.Hour},
		{name: "valid hours", in: "6", want: 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTokenExpiry(tt.in); got != tt.want {
				t.Errorf("parseTokenExpiry(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

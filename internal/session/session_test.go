package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("usr-001", testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if claims.SessionID == "" || claims.ID == "" {
		t.Error("session and token ids should be set")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	good, err := GenerateToken("usr-001", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "another-secret-key-for-jwt-signing-99"},
		{"garbage", "not.a.jwt", testSecret},
		{"empty", "", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_NoSecret(t *testing.T) {
	if _, err := ParseToken("x", ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("ParseToken() error = %v, want ErrNoSecret", err)
	}
	if _, err := GenerateToken("u", "", time.Minute); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateToken() error = %v, want ErrNoSecret", err)
	}
}

func TestProviders(t *testing.T) {
	ctx := context.Background()

	if _, ok := (ContextProvider{}).CurrentUser(ctx); ok {
		t.Error("ContextProvider on empty context should be signed out")
	}
	if id, ok := (ContextProvider{}).CurrentUser(WithUser(ctx, "usr-7")); !ok || id != "usr-7" {
		t.Errorf("ContextProvider = (%q, %v), want (usr-7, true)", id, ok)
	}
	if _, ok := Static("").CurrentUser(ctx); ok {
		t.Error("empty Static should be signed out")
	}
	if id, ok := Static("op").CurrentUser(ctx); !ok || id != "op" {
		t.Errorf("Static = (%q, %v), want (op, true)", id, ok)
	}
}

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, exp, err := m.GenerateToken("user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry should be in the future")
	}
	uid, err := m.VerifyToken(token)
	if err != nil || uid != "user-1" {
		t.Fatalf("verify: %q %v", uid, err)
	}
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	token, _, _ := NewJWTManager("other", time.Hour).GenerateToken("user-1")
	if _, err := NewJWTManager("secret", time.Hour).VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	expired, _, _ := NewJWTManager("secret", -time.Minute).GenerateToken("user-1")
	if _, err := NewJWTManager("secret", time.Hour).VerifyToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if CheckPassword(hash, "hunter22") != nil {
		t.Fatalf("expected match")
	}
	if CheckPassword(hash, "wrong") == nil {
		t.Fatalf("expected mismatch")
	}
}

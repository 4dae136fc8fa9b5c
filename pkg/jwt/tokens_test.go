package jwt

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestGenerateAndParse(t *testing.T) {
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	token, err := GenerateToken("user-1", "a@x.com", testSecret, time.Hour, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, testSecret, now.Add(59*time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseExpired(t *testing.T) {
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	token, err := GenerateToken("user-1", "a@x.com", testSecret, time.Hour, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = Parse(token, testSecret, now.Add(time.Hour+time.Second))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseWrongSecret(t *testing.T) {
	now := time.Now()
	token, err := GenerateToken("user-1", "a@x.com", testSecret, time.Hour, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = Parse(token, "other-secret", now)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if errors.Is(err, ErrExpired) {
		t.Fatalf("bad signature must not report expiry")
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse("not.a.token", testSecret, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	if _, err := GenerateToken("u", "e", "", time.Hour, time.Now()); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

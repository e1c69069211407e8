package utils

import (
	"testing"
	"time"
)

func TestJwtRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := JwtGenerate(secret, "u-1", "Ana", "operations", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := JwtValidate(secret, tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserId != "u-1" || claims.Role != "operations" || claims.Name != "Ana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJwtRejectsWrongSecretAndExpired(t *testing.T) {
	tok, err := JwtGenerate([]byte("a"), "u-1", "", "admin", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := JwtValidate([]byte("b"), tok); err == nil {
		t.Fatalf("expected signature error")
	}

	expired, err := JwtGenerate([]byte("a"), "u-1", "", "admin", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := JwtValidate([]byte("a"), expired); err == nil {
		t.Fatalf("expected expiry error")
	}
}

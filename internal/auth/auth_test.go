package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("ACCORD_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	token, err := GenerateToken("user-1", "Org2", "Technical Point of Contact", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "user-1" || claims.Org != "Org2" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Role != "Technical Point of Contact" {
		t.Fatalf("role = %s", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("token id missing")
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	t.Setenv("ACCORD_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("empty token: got %v", err)
	}
	if _, err := ParseAndValidate("not.a.jwt"); err != ErrInvalidToken {
		t.Fatalf("garbage token: got %v", err)
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	t.Setenv("ACCORD_AUTH_SECRET", "")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	if _, err := GenerateToken("user-1", "Org2", "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv("ACCORD_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	if _, err := GenerateToken("", "Org2", "", time.Minute); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, err := GenerateToken("user-1", "", "", time.Minute); err == nil {
		t.Fatal("expected error for empty org")
	}
	if _, err := GenerateToken("user-1", "Org2", "", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("verify password: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

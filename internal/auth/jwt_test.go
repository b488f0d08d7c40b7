package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	token, err := svc.GenerateToken("user-123", "store-9", "cashier")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.UserID != "user-123" {
		t.Errorf("expected UserID 'user-123', got '%s'", claims.UserID)
	}
	if claims.TenantID != "store-9" {
		t.Errorf("expected TenantID 'store-9', got '%s'", claims.TenantID)
	}
	if claims.Role != "cashier" {
		t.Errorf("expected Role 'cashier', got '%s'", claims.Role)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	token, err := svc.GenerateTokenWithTTL("user-123", "store-9", "", -1*time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestValidateInvalidToken(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	if _, err := svc.ValidateToken("not-a-valid-token"); err == nil {
		t.Fatal("expected error for invalid token, got nil")
	}

	// Token signed with different key
	otherSvc := NewJWTService("different-secret-key")
	token, err := otherSvc.GenerateToken("user-123", "store-9", "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected error for token signed with different key, got nil")
	}
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	claims := Claims{
		UserID: "attacker",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestValidateRequiresSubject(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	token, err := svc.GenerateToken("", "store-9", "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected error for token without subject")
	}
}

func TestClaimsContextRoundTrip(t *testing.T) {
	claims := &Claims{UserID: "user-1", TenantID: "store-1"}
	ctx := ContextWithClaims(context.Background(), claims)

	got, ok := ClaimsFromContext(ctx)
	if !ok || got != claims {
		t.Fatal("expected claims to be retrievable from context")
	}

	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatal("expected no claims on empty context")
	}
}

func TestScopeFromContext(t *testing.T) {
	ctx := ContextWithClaims(context.Background(), &Claims{UserID: "user-1", TenantID: "store-1"})
	tenant, subject, ok := ScopeFromContext(ctx)
	if !ok || tenant != "store-1" || subject != "user-1" {
		t.Fatalf("unexpected scope: %q %q %v", tenant, subject, ok)
	}

	for name, ctx := range map[string]context.Context{
		"no claims": context.Background(),
		"no tenant": ContextWithClaims(context.Background(), &Claims{UserID: "user-1"}),
		"no user":   ContextWithClaims(context.Background(), &Claims{TenantID: "store-1"}),
	} {
		if _, _, ok := ScopeFromContext(ctx); ok {
			t.Errorf("%s: expected no scope", name)
		}
	}
}

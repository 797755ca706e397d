package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://id.example.com"

// createTestToken creates an unsigned JWT (alg none) for dev mode.
func createTestToken(claims *Claims) string {
	headerJSON, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "."
}

func testClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "ana@example.com",
		Roles: []string{"reviewer"},
	}
}

// jwksServer publishes key's public half as a one-key JWKS.
func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSClient_DevModeParsesWithoutVerification(t *testing.T) {
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}

	claims, err := client.ValidateToken(context.Background(), createTestToken(testClaims()))
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "user-123" || claims.Email != "ana@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "reviewer" {
		t.Errorf("expected roles [reviewer], got %v", claims.Roles)
	}

	if _, err := client.ValidateToken(context.Background(), "not-a-valid-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestNewJWKSClient_VerificationRequiresEndpoints(t *testing.T) {
	_, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: true})
	if err == nil {
		t.Fatal("expected error when verification has no endpoints")
	}
}

func TestJWKSClient_VerifiesSignature(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := jwksServer(t, key, "k1")

	client, err := NewJWKSClient(context.Background(), &JWKSConfig{
		EnableVerification: true,
		JWKSEndpoints:      map[string]string{testIssuer: srv.URL},
	})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}

	claims, err := client.ValidateToken(context.Background(), signToken(t, key, "k1", testClaims()))
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Reviewer() != "ana@example.com" {
		t.Errorf("unexpected reviewer %q", claims.Reviewer())
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := client.ValidateToken(context.Background(), signToken(t, other, "k1", testClaims())); err == nil {
		t.Error("expected error for a token signed by another key")
	}

	foreign := testClaims()
	foreign.Issuer = "https://evil.example.com"
	if _, err := client.ValidateToken(context.Background(), signToken(t, key, "k1", foreign)); err == nil {
		t.Error("expected error for an unknown issuer")
	}

	expired := testClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := client.ValidateToken(context.Background(), signToken(t, key, "k1", expired)); err == nil {
		t.Error("expected error for an expired token")
	}

	if _, err := client.ValidateToken(context.Background(), createTestToken(testClaims())); err == nil {
		t.Error("expected error for an unsigned token")
	}
}

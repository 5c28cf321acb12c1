package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "super-secret"
	testIssuer        = "modledger"
	testAudience      = "modledger-api"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueSessionToken(context.Background(), "123456789", "Mod")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSigningSecret), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "123456789" || claims.DisplayName != "Mod" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != testIssuer || len(claims.Audience) != 1 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected issuer/audience %+v", claims.RegisteredClaims)
	}
}

func TestTokenIssuerRejectsMissingInputs(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); err == nil {
		t.Fatalf("expected an error without a signing secret")
	}
	issuer := newTestIssuer(t, nil)
	if _, _, err := issuer.IssueSessionToken(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected an error without a subject")
	}
}

func TestTokenIssuerDefaultsTTL(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer.config.TokenTTL != defaultTokenTTL {
		t.Fatalf("expected default ttl, got %s", issuer.config.TokenTTL)
	}
}

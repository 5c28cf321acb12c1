package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSessionCookieName = "modledger_session"

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func TestSessionValidatorAcceptsIssuedTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	token, _, err := newTestIssuer(t, clock).IssueSessionToken(context.Background(), "42", "Mod")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := newTestValidator(t, clock).ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != "42" || claims.DisplayName != "Mod" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	issuedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	token, _, err := newTestIssuer(t, func() time.Time { return issuedAt }).IssueSessionToken(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	validator := newTestValidator(t, func() time.Time { return issuedAt.Add(2 * time.Hour) })
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	sign := func(claims SessionClaims, secret string) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}
	base := jwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    testIssuer,
		Audience:  []string{testAudience},
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}
	wrongIssuer := base
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := base
	wrongAudience.Audience = []string{"other-api"}
	noSubject := base
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingSessionToken},
		{name: "wrong secret", token: sign(SessionClaims{RegisteredClaims: base}, "other"), want: ErrInvalidSessionToken},
		{name: "wrong issuer", token: sign(SessionClaims{RegisteredClaims: wrongIssuer}, testSigningSecret), want: ErrInvalidSessionToken},
		{name: "wrong audience", token: sign(SessionClaims{RegisteredClaims: wrongAudience}, testSigningSecret), want: ErrInvalidSessionToken},
		{name: "no subject", token: sign(SessionClaims{RegisteredClaims: noSubject}, testSigningSecret), want: ErrMissingSessionSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	token, _, err := newTestIssuer(t, clock).IssueSessionToken(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	validator := newTestValidator(t, clock)

	bearer := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	if claims, err := validator.ValidateRequest(bearer); err != nil || claims.Subject != "42" {
		t.Fatalf("bearer validation failed: %+v %v", claims, err)
	}

	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: token})
	if claims, err := validator.ValidateRequest(cookie); err != nil || claims.Subject != "42" {
		t.Fatalf("cookie validation failed: %+v %v", claims, err)
	}

	empty := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := validator.ValidateRequest(empty); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  SessionValidatorConfig
		want error
	}{
		{name: "secret", cfg: SessionValidatorConfig{Issuer: "i", Audience: "a"}, want: ErrMissingSessionSigningKey},
		{name: "issuer", cfg: SessionValidatorConfig{SigningSecret: []byte("s"), Audience: "a"}, want: ErrMissingSessionIssuer},
		{name: "audience", cfg: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}, want: ErrMissingSessionAudience},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSessionValidator(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

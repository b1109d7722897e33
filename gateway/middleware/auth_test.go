package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"fanzcore/gateway/middleware"
)

const testSecret = "gateway-test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protectedHandler(auth *middleware.Authenticator, scopes ...string) http.Handler {
	return auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", middleware.Subject(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "fanzcore",
	}, nil)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":   "ops@fanz",
		"iss":   "fanzcore",
		"scope": "admin settlements",
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ops@fanz", rec.Header().Get("X-Subject"))
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorRejectsWrongSecret(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	token := mintToken(t, "some-other-secret", jwt.MapClaims{"sub": "x", "scope": "admin"})

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		ClockSkew:  time.Second,
	}, nil)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":   "x",
		"scope": "admin",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorRequiresScope(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	token := mintToken(t, testSecret, jwt.MapClaims{"sub": "x", "scope": "reporting"})

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: false}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	rec := httptest.NewRecorder()
	protectedHandler(auth, "admin").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

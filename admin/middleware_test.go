package admin

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pemBytes)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	key, publicPEM := generateKeyPair(t)
	apiKeys := map[string]bool{"valid-key": true}

	validToken := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "admin@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expiredToken := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "admin@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	tests := []struct {
		name        string
		header      string
		expectError bool
		subject     string
	}{
		{
			name:        "missing header",
			header:      "",
			expectError: true,
		},
		{
			name:        "malformed header",
			header:      "Bearer",
			expectError: true,
		},
		{
			name:        "unsupported type",
			header:      "Basic dXNlcjpwYXNz",
			expectError: true,
		},
		{
			name:    "valid bearer token",
			header:  "Bearer " + validToken,
			subject: "admin@example.com",
		},
		{
			name:        "expired bearer token",
			header:      "Bearer " + expiredToken,
			expectError: true,
		},
		{
			name:        "garbage bearer token",
			header:      "Bearer not.a.token",
			expectError: true,
		},
		{
			name:   "valid api key",
			header: "ApiKey valid-key",
		},
		{
			name:        "invalid api key",
			header:      "ApiKey wrong-key",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := authenticate(tt.header, publicPEM, apiKeys)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestValidateJWTRejectsOtherSigningMethods(t *testing.T) {
	_, publicPEM := generateKeyPair(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "intruder",
	}).SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = validateJWT(token, publicPEM)
	assert.Error(t, err)
}

func TestParseRSAPublicKey(t *testing.T) {
	_, publicPEM := generateKeyPair(t)

	key, err := parseRSAPublicKey(publicPEM)
	require.NoError(t, err)
	assert.NotNil(t, key)

	_, err = parseRSAPublicKey("not a pem block")
	assert.Error(t, err)
}

func TestAuthMiddlewareSetsSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	key, publicPEM := generateKeyPair(t)

	router := gin.New()
	router.Use(Auth(AuthConfig{JWTPublicKey: publicPEM}))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(authSubjectKey))
	})

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "admin@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin@example.com", w.Body.String())
}

func TestAuthMiddlewarePassthroughWhenUnconfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Auth(AuthConfig{}))
	router.GET("/open", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// generated when absent
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	// echoed when supplied
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get(requestIDHeader))
}

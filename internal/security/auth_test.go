package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func prodResolver() *TokenResolver {
	cfg := config.DefaultConfig()
	cfg.AuthJWTSecret = testSecret
	return NewTokenResolver(&cfg)
}

func TestResolve_ValidToken(t *testing.T) {
	r := prodResolver()
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":    "alice",
		"kahaId": "kaha-42",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	id, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "kaha-42", id.KahaID)
}

func TestResolve_KahaIDDefaultsToSubject(t *testing.T) {
	r := prodResolver()
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "alice"})

	id, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.KahaID)
}

func TestResolve_RejectsBadSignature(t *testing.T) {
	r := prodResolver()
	token := signToken(t, "wrong-secret", jwt.MapClaims{"sub": "alice"})

	_, err := r.Resolve(context.Background(), token)
	require.Error(t, err)
}

func TestResolve_RejectsMissingSubject(t *testing.T) {
	r := prodResolver()
	token := signToken(t, testSecret, jwt.MapClaims{"kahaId": "kaha-42"})

	_, err := r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, errMissingIdentity)
}

func TestResolve_RejectsOpaqueTokenInProd(t *testing.T) {
	r := prodResolver()
	_, err := r.Resolve(context.Background(), "alice")
	require.Error(t, err)
}

func TestResolve_TestingModeAcceptsOpaqueToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	r := NewTokenResolver(&cfg)

	id, err := r.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	resolver := NewTokenResolver(&cfg)

	router := gin.New()
	router.GET("/who", AuthMiddleware(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": GetUserID(c), "kahaId": GetKahaID(c)})
	})

	t.Run("missing header rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/who", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-bearer header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token resolves identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer alice")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"userId":"alice","kahaId":"alice"}`, rec.Body.String())
	})
}

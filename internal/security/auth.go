package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyKahaID is the gin context key for the caller's identity-service ID.
	ContextKeyKahaID = "kahaID"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	UserID string
	KahaID string
}

// TokenResolver resolves bearer tokens to caller identities. It is initialized
// once at startup and shared by the HTTP middleware and the websocket endpoint.
type TokenResolver struct {
	secret      []byte
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	if cfg.AuthJWTSecret == "" && cfg.Mode != config.ModeTesting {
		log.Warn("No JWT secret configured; all bearer tokens will be rejected")
	}
	return &TokenResolver{
		secret:      []byte(cfg.AuthJWTSecret),
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
)

type tokenClaims struct {
	KahaID string `json:"kahaId"`
	jwt.RegisteredClaims
}

// Resolve resolves a bearer token (without the "Bearer " prefix) into a caller
// Identity. In testing mode a token that does not look like a JWT is accepted
// as the user ID directly.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	if strings.Count(bearerToken, ".") < 2 {
		if r.testingMode && bearerToken != "" {
			return &Identity{UserID: bearerToken, KahaID: bearerToken}, nil
		}
		return nil, errInvalidJWT
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(bearerToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Join(errInvalidJWT, errors.New("unexpected signing method"))
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}

	if claims.Subject == "" {
		return nil, errMissingIdentity
	}
	kahaID := claims.KahaID
	if kahaID == "" {
		kahaID = claims.Subject
	}
	return &Identity{UserID: claims.Subject, KahaID: kahaID}, nil
}

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetKahaID returns the caller's identity-service ID from the gin context.
func GetKahaID(c *gin.Context) string {
	return c.GetString(ContextKeyKahaID)
}

// AuthMiddleware returns a gin middleware that extracts caller identity from
// the Authorization header using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyKahaID, id.KahaID)
	}
}

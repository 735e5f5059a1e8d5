// ABOUTME: gin middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Resolves the bearer token to an active user and stores it in the request context

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/2389/helpdesk-gateway/internal/store"
)

// TokenQueryParam carries the token on WebSocket upgrades, where browsers
// cannot set headers.
const TokenQueryParam = "token"

// UserByUUID resolves a token subject to a user.
type UserByUUID interface {
	GetUserByUUID(ctx context.Context, uuid string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireUser authenticates requests from the Authorization header.
func RequireUser(users UserByUUID, verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return requireUser(users, verifier, logger, false)
}

// RequireUserWS is RequireUser that also accepts ?token= for WebSocket upgrades.
func RequireUserWS(users UserByUUID, verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return requireUser(users, verifier, logger, true)
}

func requireUser(users UserByUUID, verifier TokenVerifier, logger *slog.Logger, allowQuery bool) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(c *gin.Context) {
		token, errMsg := extractBearerToken(c.GetHeader("Authorization"))
		if errMsg != "" && allowQuery {
			if q := c.Query(TokenQueryParam); q != "" {
				token, errMsg = q, ""
			}
		}
		if errMsg != "" {
			unauthorized(c)
			return
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			logger.Debug("token rejected", "error", err)
			unauthorized(c)
			return
		}

		user, err := users.GetUserByUUID(c.Request.Context(), subject)
		if errors.Is(err, store.ErrNotFound) {
			unauthorized(c)
			return
		}
		if err != nil {
			logger.Error("loading user", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Inactive user"})
			return
		}

		ctx := WithAuth(c.Request.Context(), &AuthContext{
			UserID: user.ID,
			UUID:   user.UUID,
			Email:  user.Email,
			User:   user,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
}

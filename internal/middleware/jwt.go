package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// ContextClientKey is the gin context key storing the caller's client id.
const ContextClientKey = "currentClientID"

// TokenValidator parses access tokens into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		if claims.ClientID != "" {
			c.Set(ContextClientKey, claims.ClientID)
		}
		c.Next()
	}
}

// RequireClient only admits callers whose token is scoped to a client.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextClientKey) == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "client account required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

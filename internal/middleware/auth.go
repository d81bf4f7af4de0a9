package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chungtau/ledger-payments/internal/auth"
)

const ClientIDKey = "client_id"

// Auth resolves the bearer credential to a client id. Handlers never see a
// request without one.
func Auth(resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "AUTHENTICATION_FAILED",
				"message": "Authorization header required",
			})
			return
		}

		// "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "AUTHENTICATION_FAILED",
				"message": "Invalid authorization format. Use: Bearer <token>",
			})
			return
		}

		clientID, err := resolver.ResolveClientID(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "AUTHENTICATION_FAILED",
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(ClientIDKey, clientID)
		c.Next()
	}
}

// GetClientID retrieves the authenticated client id from the gin context
func GetClientID(c *gin.Context) string {
	if clientID, exists := c.Get(ClientIDKey); exists {
		return clientID.(string)
	}
	return ""
}

package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"keymatic-backend/internal/auth"
)

const (
	subjectContextKey = "subject"
	roleContextKey    = "role"
)

// SubjectFromContext returns the authenticated subject set by RequireAuth.
func SubjectFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectContextKey)
	if !ok {
		return "", false
	}
	subject, ok := v.(string)
	return subject, ok && subject != ""
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		claims, err := auth.VerifyToken(strings.TrimSpace(parts[1]), cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		c.Set(subjectContextKey, claims.Subject)
		c.Set(roleContextKey, claims.Role)
		c.Next()
	}
}

// RequireRole allows only callers whose role equals role. It must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if got := c.GetString(roleContextKey); got != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			return
		}
		c.Next()
	}
}

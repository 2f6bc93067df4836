package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey = "user_id"
	contextClaimsKey = "auth_claims"
)

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": message})
}

// Middleware authenticates the bearer token and stores its subject under
// ContextUserIDKey.
func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c, "missing token")
			return
		}

		claims, err := ParseJWT(token, secret)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		c.Set(ContextUserIDKey, claims.Subject)
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// RequireScope must run after Middleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			unauthorized(c, "missing token")
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "missing scope " + scope})
			return
		}
		c.Next()
	}
}

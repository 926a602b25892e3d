package middleware

import (
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/gin-gonic/gin"
)

const sessionKey = "goguard.session"

// GinClientIP attaches gin's resolved client address to the request context.
// Configure gin's trusted proxies before relying on forwarded headers.
func GinClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(goGuard.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// RequireSession aborts with 401 unless the request carries a valid bearer
// access token.
func RequireSession(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := validator.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(sessionKey, claims)
		c.Request = c.Request.WithContext(withSession(c.Request.Context(), claims))
		c.Next()
	}
}

// RequireRole aborts with 403 unless the session holds role. It must run
// after RequireSession.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Session(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Session returns the claims stored by RequireSession.
func Session(c *gin.Context) (*goGuard.SessionClaims, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*goGuard.SessionClaims)
	return claims, ok
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/evalworker/internal/auth"
	"github.com/bhandras/evalworker/internal/logger"
	"github.com/gin-gonic/gin"
)

const subjectKey = "subject"

// AuthMiddleware validates the bearer token. Browsers cannot set headers on
// a websocket handshake, so an access_token query parameter is accepted too.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims, err := jwtManager.VerifyToken(token)
		if err != nil {
			logger.Debugf("[server] rejected token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// Subject returns the authenticated token subject.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// Format: [method] path - status (latency)
		logger.Debugf("[server] [%s] %s - %d (%v)",
			c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/auth"
)

const correlationIDKey = "correlation_id"

// CorrelationMiddleware stamps every request with a correlation id (carried
// through to error responses and structured logs) and emits one access-log
// line per request, in the teacher's zap field style.
func CorrelationMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("X-Correlation-ID")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set(correlationIDKey, cid)
		c.Writer.Header().Set("X-Correlation-ID", cid)

		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("correlation_id", cid),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// authClaimsKey is the gin context key JWTMiddleware stores verified claims
// under; handlers read it via Claims.
const authClaimsKey = "auth_claims"

// JWTMiddleware validates the Authorization: Bearer header and rejects with
// 401 on failure (spec §6.1 "Authorization: bearer token in Authorization
// header"); the Subscription Gateway authenticates separately via query
// parameter (internal/gateway) since WebSocket handshakes can't set headers
// from a browser client.
func JWTMiddleware(jwt *auth.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tok := strings.TrimPrefix(header, "Bearer ")
		if tok == header && header != "" {
			// header present but not in "Bearer <token>" form
			tok = ""
		}
		claims, err := jwt.Verify(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": err.Error()})
			return
		}
		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// RequireRole aborts the request with 403 unless the bound claims carry one
// of the allowed roles (spec §6.2).
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := auth.RequireRole(claims, allowed...); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "detail": err.Error()})
			return
		}
		c.Next()
	}
}

// Claims retrieves the verified token claims JWTMiddleware bound to the
// request context, or nil if no middleware ran.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(authClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	"github.com/chatforge/ragpipe/internal/pkg/response"
)

// RateLimit gates a route group under one endpoint class. The chat path does
// its own per-session limiting inside the service; this covers the management
// endpoints.
func RateLimit(limits *limiter.Limiter, endpointClass string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		decision := limits.Allow(c.Request.Context(), tenantID, endpointClass, c.ClientIP())
		if !decision.Allowed {
			response.RateLimited(c, errcode.ErrTooMany, int64(decision.RetryAfter.Seconds()))
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns each request an ID, echoes it in the response and binds a
// request-scoped logger into the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := logutil.WithLogger(c.Request.Context(),
			logutil.GetLogger(c.Request.Context()).With(zap.String("request_id", id)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

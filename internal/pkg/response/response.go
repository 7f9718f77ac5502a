package response

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: 0, Data: data})
}

func Error(c *gin.Context, status int, code int, message string) {
	c.JSON(status, envelope{Code: code, Message: message})
}

// RateLimited responds 429 with the Retry-After hint so callers can
// distinguish capacity rejections from other failures.
func RateLimited(c *gin.Context, code int, retryAfterSeconds int64) {
	if retryAfterSeconds > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	}
	c.JSON(http.StatusTooManyRequests, envelope{Code: code, Message: http.StatusText(http.StatusTooManyRequests)})
}

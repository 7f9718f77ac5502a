package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	"github.com/chatforge/ragpipe/internal/pkg/jwt"
	"github.com/chatforge/ragpipe/internal/pkg/response"
)

const (
	ContextTenantIDKey = "tenant_id"
	ContextSessionKey  = "session_id"
)

// JwtAuth verifies the bearer token and stashes the tenant identity. Every
// data-touching route sits behind this.
func JwtAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "missing token")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextTenantIDKey, claims.CreatorID)
		if claims.SessionID != "" {
			c.Set(ContextSessionKey, claims.SessionID)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// TenantID extracts the authenticated tenant from the request context.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantIDKey)
}

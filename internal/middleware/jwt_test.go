package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/ragpipe/internal/middleware"
	"github.com/chatforge/ragpipe/internal/pkg/jwt"
)

func setupAuthRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/whoami", middleware.JwtAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.TenantID(c))
	})
	return engine
}

func TestJwtAuthAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	engine := setupAuthRouter(secret)

	token, err := jwt.GenerateToken("tenant-42", "sess-1", secret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tenant-42", rec.Body.String())
}

func TestJwtAuthRejectsMissingToken(t *testing.T) {
	engine := setupAuthRouter([]byte("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJwtAuthRejectsWrongSecret(t *testing.T) {
	engine := setupAuthRouter([]byte("test-secret"))

	token, err := jwt.GenerateToken("tenant-42", "", []byte("other-secret"), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJwtAuthRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	engine := setupAuthRouter(secret)

	token, err := jwt.GenerateToken("tenant-42", "", secret, -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

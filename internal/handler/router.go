package handler

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/limiter"
	"github.com/chatforge/ragpipe/internal/middleware"
)

type RouterConfig struct {
	JWTSecret []byte
	Limiter   *limiter.Limiter
}

// NewRouter wires the HTTP surface. The chat endpoint relies on the
// per-session limiting inside the service; document and search routes get a
// per-tenant class limit at the middleware layer.
func NewRouter(cfg RouterConfig, chat *ChatHandler, docs *DocumentHandler,
	search *SearchHandler, health *HealthHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Cors())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	engine.GET("/health", health.Health)

	api := engine.Group("/api/v1")
	api.Use(middleware.JwtAuth(cfg.JWTSecret))
	{
		api.POST("/chat", chat.Chat)

		docGroup := api.Group("/documents")
		docGroup.Use(middleware.RateLimit(cfg.Limiter, "ingest"))
		{
			docGroup.POST("", docs.Create)
			docGroup.GET("/:id", docs.Get)
			docGroup.POST("/:id/reprocess", docs.Reprocess)
			docGroup.DELETE("/:id", docs.Delete)
		}

		searchGroup := api.Group("/search")
		searchGroup.Use(middleware.RateLimit(cfg.Limiter, "search"))
		{
			searchGroup.POST("", search.Search)
		}
	}
	return engine
}

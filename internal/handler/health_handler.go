package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/pkg/response"
	"github.com/chatforge/ragpipe/internal/service"
)

type HealthHandler struct {
	db        *sqlx.DB
	rag       *service.RagService
	providers map[string]interface {
		Healthcheck(ctx context.Context) error
	}
}

func NewHealthHandler(db *sqlx.DB) *HealthHandler {
	return &HealthHandler{
		db: db,
		providers: make(map[string]interface {
			Healthcheck(ctx context.Context) error
		}),
	}
}

// SetService binds the orchestrator once it is constructed; providers are
// registered before the service exists.
func (h *HealthHandler) SetService(rag *service.RagService) {
	h.rag = rag
}

func (h *HealthHandler) WithGenProvider(p ai.IGenProvider) *HealthHandler {
	h.providers["gen/"+p.Name()] = p
	return h
}

func (h *HealthHandler) WithEmbedProvider(p ai.IEmbedProvider) *HealthHandler {
	h.providers["embed/"+p.Name()] = p
	return h
}

type healthStatus struct {
	Status       string            `json:"status"`
	Components   map[string]string `json:"components"`
	Samples      int               `json:"latency_samples"`
	AvgLatencyMs int64             `json:"avg_latency_ms"`
}

// Health probes the database and each configured provider. Any failing
// component degrades the overall status without hiding the healthy ones.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Components: map[string]string{}}
	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "degraded"
		status.Components["database"] = err.Error()
	} else {
		status.Components["database"] = "ok"
	}
	for name, p := range h.providers {
		if err := p.Healthcheck(ctx); err != nil {
			status.Status = "degraded"
			status.Components[name] = err.Error()
		} else {
			status.Components[name] = "ok"
		}
	}
	if h.rag != nil {
		samples, avg := h.rag.Stats()
		status.Samples = samples
		status.AvgLatencyMs = avg.Milliseconds()
	}
	response.Success(c, status)
}

package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/ingest"
	"github.com/chatforge/ragpipe/internal/middleware"
	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	"github.com/chatforge/ragpipe/internal/pkg/response"
)

type DocumentHandler struct {
	pipeline *ingest.Pipeline
}

func NewDocumentHandler(pipeline *ingest.Pipeline) *DocumentHandler {
	return &DocumentHandler{pipeline: pipeline}
}

type createDocumentRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// Create uploads the document body and starts ingestion immediately. The
// response carries the document in pending/processing state; poll Get for the
// terminal status.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
		return
	}
	ctx := c.Request.Context()
	tenantID := middleware.TenantID(c)
	doc, err := h.pipeline.Upload(ctx, tenantID, req.Title, strings.NewReader(req.Content))
	if err != nil {
		handleError(c, err)
		return
	}
	if err := h.pipeline.Start(ctx, tenantID, doc.ID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.pipeline.GetDocument(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	if err := h.pipeline.Reprocess(c.Request.Context(), middleware.TenantID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.pipeline.Delete(c.Request.Context(), middleware.TenantID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

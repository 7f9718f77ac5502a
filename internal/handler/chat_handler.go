package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/middleware"
	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	"github.com/chatforge/ragpipe/internal/pkg/response"
	"github.com/chatforge/ragpipe/internal/service"
)

type ChatHandler struct {
	rag *service.RagService
}

func NewChatHandler(rag *service.RagService) *ChatHandler {
	return &ChatHandler{rag: rag}
}

type chatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
		return
	}
	answer, err := h.rag.Answer(c.Request.Context(), middleware.TenantID(c), req.SessionID, req.Query)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, answer)
}

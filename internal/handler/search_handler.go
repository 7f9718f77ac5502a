package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/ragpipe/internal/middleware"
	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	"github.com/chatforge/ragpipe/internal/pkg/response"
	"github.com/chatforge/ragpipe/internal/service"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

type SearchHandler struct {
	rag *service.RagService
}

func NewSearchHandler(rag *service.RagService) *SearchHandler {
	return &SearchHandler{rag: rag}
}

type searchRequest struct {
	Query     string  `json:"query" binding:"required"`
	TopK      int     `json:"top_k"`
	Threshold float32 `json:"threshold"`
}

type searchHit struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	SourceTitle string  `json:"source_title"`
	Score       float32 `json:"score"`
	Text        string  `json:"text"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
		return
	}
	matches, err := h.rag.Search(c.Request.Context(), middleware.TenantID(c), req.Query, req.TopK, req.Threshold)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, toHits(matches))
}

func toHits(matches []vectorstore.Match) []searchHit {
	hits := make([]searchHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, searchHit{
			ChunkID:     m.ID,
			DocumentID:  m.Meta.DocumentID,
			ChunkIndex:  m.Meta.ChunkIndex,
			SourceTitle: m.Meta.SourceTitle,
			Score:       m.Score,
			Text:        m.Text,
		})
	}
	return hits
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/pkg/errcode"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/pkg/response"
)

// handleError maps the error taxonomy onto HTTP statuses. Unclassified errors
// become opaque 500s; details go to the log, not the client.
func handleError(c *gin.Context, err error) {
	var rateErr *apperrors.RateLimitedError
	if errors.As(err, &rateErr) {
		response.RateLimited(c, errcode.ErrTooMany, int64(rateErr.RetryAfter.Seconds()))
		return
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalid):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
	case errors.Is(err, apperrors.ErrTenantIsolation):
		// Reported as not-found so probing for foreign IDs leaks nothing.
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case errors.Is(err, apperrors.ErrNotFound):
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case errors.Is(err, apperrors.ErrConflict):
		response.Error(c, http.StatusConflict, errcode.ErrConflict, err.Error())
	case errors.Is(err, apperrors.ErrTooMany):
		response.RateLimited(c, errcode.ErrTooMany, 0)
	case errors.Is(err, apperrors.ErrServiceDegraded),
		errors.Is(err, apperrors.ErrEmbeddingUnavailable),
		errors.Is(err, apperrors.ErrGenerationUnavailable):
		response.Error(c, http.StatusServiceUnavailable, errcode.ErrDegraded, "service temporarily unavailable")
	default:
		logutil.GetLogger(c.Request.Context()).Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}

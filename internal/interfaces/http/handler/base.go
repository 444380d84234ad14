package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/erp/agency/internal/application/business"
	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/logger"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/erp/agency/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Written reports a write: 201 when the remote store confirmed it, 202 when it
// was queued and is only visible locally.
func (h *BaseHandler) Written(c *gin.Context, result offline.WriteResult) {
	status := http.StatusCreated
	if result.IsPending() {
		status = http.StatusAccepted
	}
	c.JSON(status, dto.NewSuccessResponse(result))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// HandleError is a generic error handler that handles both domain and standard errors
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		if fields := business.FieldErrors(err); code == dto.ErrCodeValidation && len(fields) > 0 {
			details := make([]dto.ValidationDetail, 0, len(fields))
			for _, f := range fields {
				details = append(details, dto.ValidationDetail{Field: f.Field, Message: f.Message})
			}
			c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(domainErr.Message, middleware.GetRequestID(c), details))
			return
		}
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
		return
	}
	if offline.IsTransient(err) {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeRemoteUnavailable, "Remote store is unreachable, try again later")
		return
	}

	logger.FromContext(c.Request.Context()).Error("Unhandled error", zap.Error(err))
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}

// BindJSON decodes the request body into dst, answering 400 or 413 itself on failure
func (h *BaseHandler) BindJSON(c *gin.Context, dst any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
		case errors.Is(err, io.EOF):
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is empty")
		default:
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		}
		return false
	}
	return true
}

// Engine returns the caller's open session, answering 401 itself when there is none
func (h *BaseHandler) Engine(c *gin.Context) (*appoffline.Engine, bool) {
	engine := middleware.GetEngine(c)
	if engine == nil || engine.Closed() {
		h.HandleError(c, shared.ErrSessionClosed)
		return nil, false
	}
	return engine, true
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
)

// errNoTenant is returned when a handler runs without the tenant middleware
var errNoTenant = errors.New("tenant not found in context")

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getTenantID returns the tenant resolved by the tenant middleware
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	id, ok := middleware.GetTenantID(c)
	if !ok {
		return uuid.Nil, errNoTenant
	}
	return id, nil
}

// getSession returns the invoicing session of the request
func getSession(c *gin.Context) (appinvoicing.Session, error) {
	tenantID, err := getTenantID(c)
	if err != nil {
		return appinvoicing.Session{}, err
	}
	env, ok := middleware.GetEnvironment(c)
	if !ok {
		return appinvoicing.Session{}, errNoTenant
	}
	return appinvoicing.Session{TenantID: tenantID, Environment: env}, nil
}

// errorDetail maps an error to its API code and a message safe to return
func errorDetail(err error) (code, message string) {
	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		return dto.NormalizeErrorCode(domainErr.Code), domainErr.Message
	case errors.Is(err, appfulfillment.ErrStoreStopped), errors.Is(err, appfulfillment.ErrSessionManagerClosed):
		return dto.ErrCodeServiceUnavailable, "Order session is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeServiceUnavailable, "Request timed out"
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize, totalPages int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize, totalPages))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// ValidationError sends a 400 response describing a binding failure
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// HandleError converts domain and standard errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, message := errorDetail(err)
	if code == dto.ErrCodeInternal {
		_ = c.Error(err)
	}
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

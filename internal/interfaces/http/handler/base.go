package handler

import (
	"errors"
	"net/http"

	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/logger"
	"github.com/collab/admin/internal/interfaces/http/dto"
	"github.com/collab/admin/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthRealm is announced on 401 responses
const AuthRealm = `Basic realm="admin"`

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// credentials extracts the caller's Basic credentials. A request without
// them is rejected before it reaches the service.
func credentials(c *gin.Context) (tenancy.Credentials, error) {
	login, secret, ok := c.Request.BasicAuth()
	if !ok {
		return tenancy.Credentials{}, shared.InvalidCredentials(errors.New("missing basic credentials"))
	}
	return tenancy.NewCredentials(login, secret), nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Page sends one page of a listing
func (h *BaseHandler) Page(c *gin.Context, data any, meta *dto.Meta) {
	c.JSON(http.StatusOK, dto.NewPageResponse(data, meta))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// InvalidData sends a 400 response for a request the handler rejects itself
func (h *BaseHandler) InvalidData(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewInvalidDataResponse(message, middleware.GetRequestID(c)))
}

// HandleError converts a failure into its HTTP response. Storage faults are
// logged with their cause, which never reaches the client beyond its message.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status, body := dto.NewErrorResponse(err, middleware.GetRequestID(c))

	switch status {
	case http.StatusUnauthorized:
		c.Header("WWW-Authenticate", AuthRealm)
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		logger.Request(c).Error("Admin operation failed",
			zap.String("kind", string(body.Kind)),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

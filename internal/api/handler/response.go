package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/service"
)

// Response is the envelope of every JSON endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// respondError maps err onto a status code: configuration and request
// errors are 400, missing records 404, a saturated dispatcher 503,
// everything else 500.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	} else {
		logger.CtxWarn(c.Request.Context(), "Request rejected: status=%d, error=%v", status, err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, domain.ErrMissingSource),
		errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDispatcherBusy),
		errors.Is(err, service.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	logger.CtxWarn(c.Request.Context(), "Invalid request body: client_ip=%s, error=%v", c.ClientIP(), err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
}

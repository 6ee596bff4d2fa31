package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dispatcher *service.Dispatcher
}

// NewHealthHandler creates a new health handler. dispatcher may be nil.
func NewHealthHandler(dispatcher *service.Dispatcher) *HealthHandler {
	return &HealthHandler{dispatcher: dispatcher}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.dispatcher != nil {
		body["flows_running"] = h.dispatcher.Running()
		body["flows_queued"] = h.dispatcher.Queued()
	}
	c.JSON(http.StatusOK, body)
}

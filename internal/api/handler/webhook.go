package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/service"
)

// WebhookHandler receives fine-tune completion callbacks.
type WebhookHandler struct {
	reconciler *service.Reconciler
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(reconciler *service.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Finetune handles POST /api/v1/webhook/finetune. An unknown job id is
// acknowledged with success=false so the provider stops retrying.
func (h *WebhookHandler) Finetune(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := h.reconciler.Reconcile(c.Request.Context(), payload)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusOK, Response{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, rec)
}

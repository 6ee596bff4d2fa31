package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/service"
)

// DatasourceHandler creates and reads ingested datasources.
type DatasourceHandler struct {
	orchestrator *service.Orchestrator
}

// NewDatasourceHandler creates a datasource handler.
func NewDatasourceHandler(orchestrator *service.Orchestrator) *DatasourceHandler {
	return &DatasourceHandler{orchestrator: orchestrator}
}

// Create handles POST /api/v1/ingest. The record is returned as soon as it
// is stored; embedding and fine-tuning continue in the background.
func (h *DatasourceHandler) Create(c *gin.Context) {
	var req service.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := h.orchestrator.Ingest(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := logger.SetRecordID(c.Request.Context(), rec.ID)
	logger.CtxInfo(ctx, "Datasource accepted: type=%s, provider=%s, base_model=%s", rec.Type, rec.Provider, rec.BaseModel)
	respond(c, http.StatusCreated, rec)
}

// Get handles GET /api/v1/datasources/:id.
func (h *DatasourceHandler) Get(c *gin.Context) {
	rec, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, rec)
}

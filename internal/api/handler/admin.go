package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/service"
	"github.com/timmy/nagato/internal/source"
)

// AdminHandler runs batch ingestion from staged sources.
type AdminHandler struct {
	ingestService *service.IngestService
	sources       map[string]source.Source

	// Ingest job state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - sources: staged sources keyed by id.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ingestService *service.IngestService, sources map[string]source.Source) *AdminHandler {
	return &AdminHandler{
		ingestService: ingestService,
		sources:       sources,
	}
}

// BatchIngestRequest represents the batch ingest API request.
type BatchIngestRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"required,min=1,max=10000"`
}

// BatchIngestResponse represents the batch ingest API response.
type BatchIngestResponse struct {
	Message string               `json:"message"`
	Stats   *service.IngestStats `json:"stats,omitempty"`
}

// IngestStatusResponse represents the ingest status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
}

// ListSources handles GET /api/v1/admin/sources.
func (h *AdminHandler) ListSources(c *gin.Context) {
	ids := make([]string, 0, len(h.sources))
	for id := range h.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	respond(c, http.StatusOK, ids)
}

// TriggerIngest handles POST /api/v1/admin/ingest. Only one batch runs at
// a time; a concurrent request gets 409.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	ctx := logger.SetComponent(c.Request.Context(), "admin")

	var req BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", req.Source, c.ClientIP())
		c.JSON(http.StatusBadRequest, Response{Error: "unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Ingest request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, Response{Error: "ingest is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting batch ingest: source=%s, limit=%d", req.Source, req.Limit)

	// Records must be created even if the client goes away.
	startTime := time.Now()
	stats, err := h.ingestService.IngestFromSource(context.WithoutCancel(ctx), src, req.Limit)
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Batch ingest failed: source=%s, error=%v", req.Source, err)
		respondError(c, err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.ProcessedItems,
	}).Info(ctx, "Batch ingest completed: source=%s, total=%d, processed=%d, failed=%d",
		req.Source, stats.TotalItems, stats.ProcessedItems, stats.FailedItems)

	respond(c, http.StatusOK, BatchIngestResponse{
		Message: "records created, flows running in background",
		Stats:   stats,
	})
}

// GetIngestStatus handles GET /api/v1/admin/ingest/status.
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	respond(c, http.StatusOK, resp)
}

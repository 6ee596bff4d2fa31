package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/api/handler"
	"github.com/timmy/nagato/internal/api/middleware"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/service"
	"github.com/timmy/nagato/internal/source"
)

// Services are the backends the HTTP layer exposes. Ingest and Sources may
// be nil, which leaves the admin routes out.
type Services struct {
	Orchestrator *service.Orchestrator
	Reconciler   *service.Reconciler
	Query        *service.QueryService
	Dispatcher   *service.Dispatcher
	Ingest       *service.IngestService
	Sources      map[string]source.Source
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc Services, cfg *config.Config, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(svc.Dispatcher)
	datasourceHandler := handler.NewDatasourceHandler(svc.Orchestrator)
	webhookHandler := handler.NewWebhookHandler(svc.Reconciler)
	queryHandler := handler.NewQueryHandler(svc.Query, cfg.Query)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.POST("/ingest", datasourceHandler.Create)
		v1.GET("/datasources/:id", datasourceHandler.Get)

		v1.POST("/webhook/finetune", webhookHandler.Finetune)

		v1.POST("/predict", queryHandler.Predict)
		v1.POST("/query", queryHandler.Query)
	}

	if svc.Ingest != nil {
		adminHandler := handler.NewAdminHandler(svc.Ingest, svc.Sources)
		admin := v1.Group("/admin")
		{
			admin.GET("/sources", adminHandler.ListSources)
			admin.POST("/ingest", adminHandler.TriggerIngest)
			admin.GET("/ingest/status", adminHandler.GetIngestStatus)
		}
	}

	return r
}

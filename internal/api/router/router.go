package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"property-analysis/internal/api/handler"
	"property-analysis/internal/telemetry"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "property-analysis-api",
		})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes require a resolved caller identity
	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware(deps.Config.Auth))
	{
		analysis := v1.Group("/analysis")
		{
			// POST /api/v1/analysis - Submit documents for analysis
			analysis.POST("", jobHandler.SubmitAnalysis)

			// GET /api/v1/analysis/:job_id - Get job status and outputs
			analysis.GET("/:job_id", jobHandler.GetAnalysis)

			// POST /api/v1/analysis/:job_id/cancel - Cancel a job
			analysis.POST("/:job_id/cancel", jobHandler.CancelAnalysis)

			// GET /api/v1/analysis/:job_id/files/:name - Download an output
			analysis.GET("/:job_id/files/:name", jobHandler.DownloadOutput)
		}

		// GET /api/v1/events - SSE progress stream for the caller
		v1.GET("/events", jobHandler.StreamEvents)
	}

	return r
}

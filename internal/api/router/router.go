package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/compression-service/internal/api/handler"
)

// Options holds the HTTP surface settings that are not handler dependencies
type Options struct {
	AllowedOrigins []string
	// UploadRate is the per-client uploads per second; zero disables limiting
	UploadRate  float64
	UploadBurst int
	// MaxMultipartMemory is how much of an upload gin keeps in memory before spilling to disk
	MaxMultipartMemory int64
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()
	if opts.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = opts.MaxMultipartMemory
	}

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	// Health check endpoint
	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	createJob := []gin.HandlerFunc{jobHandler.CreateJob}
	if opts.UploadRate > 0 {
		limiter := NewClientRateLimiter(opts.UploadRate, opts.UploadBurst)
		createJob = append([]gin.HandlerFunc{limiter.Middleware()}, createJob...)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/algorithms - Algorithms and their parameters
		v1.GET("/algorithms", jobHandler.ListAlgorithms)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Upload a file for compression
			jobs.POST("", createJob...)

			// GET /api/v1/jobs - List recent jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Job status and queue position
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/download - Compressed result
			jobs.GET("/:job_id/download", jobHandler.DownloadJob)
		}
	}

	return r
}

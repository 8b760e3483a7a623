package router

import (
	"net/http"

	"github.com/cuongbtq/sof-extractor/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// SetupRouter configures the Gin router with all routes and wraps it with
// CORS handling for the given origins
func SetupRouter(deps *handler.Dependencies, allowedOrigins []string) http.Handler {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	jobHandler := handler.NewJobHandler(deps)

	// Health check endpoints
	r.GET("/", jobHandler.Root)
	r.GET("/health", jobHandler.Health)

	api := r.Group("/api")
	{
		// Submission
		api.POST("/upload", jobHandler.Upload)
		api.POST("/upload-single", jobHandler.UploadSingle)
		api.POST("/upload-batch", jobHandler.UploadBatch)

		// Job state and results
		api.GET("/status/:job_id", jobHandler.GetStatus)
		api.GET("/result/:job_id", jobHandler.GetResult)
		api.GET("/jobs", jobHandler.ListJobs)

		api.POST("/calculate-laytime", jobHandler.CalculateLaytime)
		api.POST("/export/:job_id", jobHandler.Export)
	}

	return CORS(allowedOrigins).Handler(r)
}

// CORS allows credentialed requests from the configured origins
func CORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         900,
	})
}

package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vendor-gateway/internal/api/handler"
)

// Config holds HTTP edge settings
type Config struct {
	MaxBodyBytes      int64
	RequestsPerSecond float64
	Burst             int
	SignatureHeader   string
	RequireSignature  bool
	// WebhookSecrets maps vendor name to its HMAC secret
	WebhookSecrets map[string]string
	// MetricsHandler is served at MetricsPath when set
	MetricsPath    string
	MetricsHandler http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, cfg *Config) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

	jobHandler := handler.NewJobHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)
	healthHandler := handler.NewHealthHandler(deps)

	r.GET("/health", healthHandler.Liveness)

	if cfg.MetricsHandler != nil {
		r.GET(cfg.MetricsPath, gin.WrapH(cfg.MetricsHandler))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RequestsPerSecond, cfg.Burst))
	{
		health := v1.Group("/health")
		{
			health.GET("", healthHandler.Health)
			health.GET("/self", healthHandler.Self)
		}

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Accept a job for dispatch
			jobs.POST("", jobHandler.CreateJob)
			jobs.POST("/post", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:request_id - Job status
			jobs.GET("/:request_id", jobHandler.GetJob)
		}

		webhooks := v1.Group("/vendor-webhook")
		webhooks.Use(SignatureMiddleware(cfg.SignatureHeader, cfg.WebhookSecrets, cfg.RequireSignature, deps.Logger))
		{
			// POST /api/v1/vendor-webhook/:vendor - Async vendor callback
			webhooks.POST("/:vendor", webhookHandler.HandleWebhook)
		}
	}

	return r
}

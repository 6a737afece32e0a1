package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vhvplatform/go-wellness-notifier/internal/middleware"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
	"github.com/vhvplatform/go-wellness-notifier/internal/webhook"
)

// Routes is everything the router serves
type Routes struct {
	Jobs          *JobHandler
	JobLogs       *JobLogHandler
	EmailEvents   *webhook.EmailEventHandler
	Health        *HealthHandler
	Verifier      *signature.Verifier
	RateLimiter   *middleware.KeyedRateLimiter
	// OperatorToken guards /api/v1; empty disables it
	OperatorToken string
}

// NewRouter builds the gin engine
func NewRouter(r Routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", r.Health.Health)
	router.GET("/ready", r.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Job triggers: only verified requests reach the per-route limiter
	jobs := router.Group("/jobs")
	jobs.Use(middleware.RequireSignature(r.Verifier), middleware.RateLimitMiddleware(r.RateLimiter))
	{
		jobs.POST("/daily-messages", r.Jobs.DailyMessages)
		jobs.POST("/trivia", r.Jobs.Trivia)
		jobs.POST("/generation-digest", r.Jobs.GenerationDigest)
	}

	// Operator visibility
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireOperatorToken(r.OperatorToken))
	{
		v1.GET("/job-logs", r.JobLogs.ListJobLogs)
		v1.GET("/job-logs/:id", r.JobLogs.GetJobLog)
		v1.GET("/job-logs/:id/notifications", r.JobLogs.ListNotifications)
	}

	// Provider events, relayed with the same signature
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RequireSignature(r.Verifier))
	{
		webhooks.POST("/email-events", r.EmailEvents.HandleEmailEvent)
	}

	return router
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/jobs"
	"github.com/vhvplatform/go-wellness-notifier/internal/middleware"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// JobExecutor runs a job from a verified trigger body
type JobExecutor interface {
	Execute(ctx context.Context, jobType domain.JobType, body []byte, source string) (*jobs.Result, error)
}

// JobHandler handles the signed job trigger endpoints
type JobHandler struct {
	jobs JobExecutor
	log  *logger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobExecutor, log *logger.Logger) *JobHandler {
	return &JobHandler{
		jobs: jobs,
		log:  log,
	}
}

// DailyMessages handles POST /jobs/daily-messages
func (h *JobHandler) DailyMessages(c *gin.Context) {
	h.run(c, domain.JobDailyMessages)
}

// Trivia handles POST /jobs/trivia
func (h *JobHandler) Trivia(c *gin.Context) {
	h.run(c, domain.JobTrivia)
}

// GenerationDigest handles POST /jobs/generation-digest
func (h *JobHandler) GenerationDigest(c *gin.Context) {
	h.run(c, domain.JobGenerationDigest)
}

// run executes the job detached from the caller's connection; the run
// timeout bounds it instead, so a dropped scheduler request cannot abort
// a half-sent run
func (h *JobHandler) run(c *gin.Context, jobType domain.JobType) {
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.jobs.Execute(ctx, jobType, middleware.RawBody(c), jobs.SourceHTTP)

	var appErr *errors.AppError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res.Response())

	case errors.Is(err, errors.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{
			"success":   false,
			"duplicate": true,
			"error":     "Job run already claimed",
		})

	case res != nil:
		c.JSON(http.StatusInternalServerError, res.Response())

	case errors.As(err, &appErr) && appErr.Code == "VALIDATION_ERROR":
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"code":    appErr.Code,
			"error":   appErr.Error(),
		})

	default:
		h.log.Error("Failed to start job", "job", jobType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to start job",
		})
	}
}

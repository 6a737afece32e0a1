package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/repository"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

const maxPageSize = 100

// JobLogReader is the operator read side of job logs
type JobLogReader interface {
	List(ctx context.Context, f repository.JobLogFilter, page, pageSize int) ([]*domain.JobLog, int64, error)
	FindByID(ctx context.Context, id string) (*domain.JobLog, error)
}

// NotificationReader lists the records a run appended
type NotificationReader interface {
	FindByRunKey(ctx context.Context, runKey string, page, pageSize int) ([]*domain.NotificationRecord, int64, error)
}

// JobLogHandler exposes job logs to operators
type JobLogHandler struct {
	logs          JobLogReader
	notifications NotificationReader
	log           *logger.Logger
}

// NewJobLogHandler creates a new job log handler
func NewJobLogHandler(logs JobLogReader, notifications NotificationReader, log *logger.Logger) *JobLogHandler {
	return &JobLogHandler{
		logs:          logs,
		notifications: notifications,
		log:           log,
	}
}

// ListJobLogs handles GET /api/v1/job-logs
func (h *JobLogHandler) ListJobLogs(c *gin.Context) {
	page, pageSize := pagination(c)
	filter := repository.JobLogFilter{
		JobType: domain.JobType(c.Query("job_type")),
		Status:  domain.JobStatus(c.Query("status")),
	}
	if raw := c.Query("manual"); raw != "" {
		manual, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.NewValidationError("manual must be a boolean", err))
			return
		}
		filter.Manual = &manual
	}

	logs, total, err := h.logs.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.log.Error("Failed to list job logs", "error", err)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to list job logs", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      logs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetJobLog handles GET /api/v1/job-logs/:id
func (h *JobLogHandler) GetJobLog(c *gin.Context) {
	jobLog, ok := h.find(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, jobLog)
}

// ListNotifications handles GET /api/v1/job-logs/:id/notifications
func (h *JobLogHandler) ListNotifications(c *gin.Context) {
	jobLog, ok := h.find(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	records, total, err := h.notifications.FindByRunKey(c.Request.Context(), jobLog.RunKey, page, pageSize)
	if err != nil {
		h.log.Error("Failed to list notifications", "error", err, "run_key", jobLog.RunKey)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to list notifications", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *JobLogHandler) find(c *gin.Context) (*domain.JobLog, bool) {
	id := c.Param("id")
	jobLog, err := h.logs.FindByID(c.Request.Context(), id)
	if errors.Is(err, errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, errors.NewNotFoundError("Job log not found", nil))
		return nil, false
	}
	if err != nil {
		h.log.Error("Failed to get job log", "error", err, "id", id)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to get job log", err))
		return nil, false
	}
	return jobLog, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = 20
	}
	return page, pageSize
}

package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// Email provider event types
const (
	EventBounced    = "email.bounced"
	EventComplained = "email.complained"
)

// Bounce types recorded on the suppression list
const (
	BounceHard      = "hard"
	BounceSoft      = "soft"
	BounceComplaint = "complaint"
)

// BounceStore records bounces
type BounceStore interface {
	Create(ctx context.Context, bounce *domain.EmailBounce) error
}

// EmailEventHandler records provider bounce and complaint events so the
// email channel can suppress dead addresses
type EmailEventHandler struct {
	repo BounceStore
	log  *logger.Logger
}

// NewEmailEventHandler creates a new email event handler
func NewEmailEventHandler(repo BounceStore, log *logger.Logger) *EmailEventHandler {
	return &EmailEventHandler{
		repo: repo,
		log:  log,
	}
}

// HandleEmailEvent handles POST /webhooks/email-events
func (h *EmailEventHandler) HandleEmailEvent(c *gin.Context) {
	var event domain.EmailEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.log.Error("Invalid email event", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request"})
		return
	}

	bounceType := classify(&event)
	if bounceType == "" {
		h.log.Debug("Ignoring email event", "type", event.Type, "email_id", event.Data.EmailID)
		c.JSON(http.StatusOK, gin.H{"success": true, "recorded": 0})
		return
	}

	timestamp, err := time.Parse(time.RFC3339, event.CreatedAt)
	if err != nil {
		timestamp = time.Now()
	}

	recorded := 0
	for _, addr := range event.Data.To {
		h.log.Info("Received bounce event", "email", addr, "type", bounceType, "email_id", event.Data.EmailID)

		bounce := &domain.EmailBounce{
			Email:     addr,
			Type:      bounceType,
			Reason:    event.Data.Bounce.Message,
			Timestamp: timestamp,
		}
		if err := h.repo.Create(c.Request.Context(), bounce); err != nil {
			h.log.Error("Failed to record bounce", "error", err, "email", addr)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process bounce"})
			return
		}

		metrics.EmailBounces.WithLabelValues(bounceType).Inc()
		recorded++
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "recorded": recorded})
}

// classify maps a provider event to a bounce type, or "" when the event
// does not affect deliverability
func classify(event *domain.EmailEvent) string {
	switch event.Type {
	case EventComplained:
		return BounceComplaint
	case EventBounced:
		if strings.EqualFold(event.Data.Bounce.Type, "Permanent") {
			return BounceHard
		}
		return BounceSoft
	}
	return ""
}

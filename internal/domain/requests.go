package domain

// DailyMessagesRequest is the trigger body of the daily messages job
type DailyMessagesRequest struct {
	WindowType string `json:"windowType" binding:"omitempty,oneof=morning evening manual"`
	TestUserID string `json:"testUserId,omitempty"`
	RunID      string `json:"runId,omitempty" binding:"omitempty,max=128"`
}

// TriviaRequest is the trigger body of the trivia job
type TriviaRequest struct {
	Type       string `json:"type" binding:"required,oneof=reminder start"`
	WeekKey    string `json:"week_key" binding:"required,max=32"`
	TestUserID string `json:"testUserId,omitempty"`
	RunID      string `json:"runId,omitempty" binding:"omitempty,max=128"`
}

// DigestRequest is the trigger body of the generation digest job
type DigestRequest struct {
	DigestKey  string `json:"digest_key,omitempty" binding:"omitempty,max=32"`
	TestUserID string `json:"testUserId,omitempty"`
	RunID      string `json:"runId,omitempty" binding:"omitempty,max=128"`
}

// JobMetrics are the aggregate counters reported for a run
type JobMetrics struct {
	Recipients       int   `json:"recipients"`
	Targeted         int   `json:"targeted"`
	Sent             int   `json:"sent"`
	Failed           int   `json:"failed"`
	Skipped          int   `json:"skipped"`
	RecipientsFailed int   `json:"recipients_failed"`
	DurationMS       int64 `json:"duration_ms"`
}

// JobResponse is the response body of a job endpoint
type JobResponse struct {
	Success      bool       `json:"success"`
	JobLogID     string     `json:"job_log_id,omitempty"`
	RunKey       string     `json:"run_key,omitempty"`
	ManualBypass bool       `json:"manual_bypass"`
	Metrics      JobMetrics `json:"metrics"`
	Error        string     `json:"error,omitempty"`
}

// TriggerMessage is a job trigger delivered over the message broker. Body
// carries the exact bytes that were signed.
type TriggerMessage struct {
	Job       JobType `json:"job"`
	Body      string  `json:"body"`
	Signature string  `json:"signature"`
}

// EmailEvent is a delivery event relayed from the email provider
type EmailEvent struct {
	Type      string `json:"type" binding:"required"` // email.bounced, email.complained, email.delivered
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
		Bounce  struct {
			Type    string `json:"type"` // Permanent, Transient
			Message string `json:"message"`
		} `json:"bounce"`
	} `json:"data"`
}

// Package jobs runs the notification jobs: claim the run, select recipients,
// produce and dispatch each message, then finalize the job log.
package jobs

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
)

// Trigger sources
const (
	SourceHTTP      = "http"
	SourceAMQP      = "amqp"
	SourceScheduler = "scheduler"
	SourceCLI       = "cli"
)

// Trigger is a parsed job invocation
type Trigger struct {
	Window       string // daily_messages
	Type         string // trivia
	Key          string // trivia week key or digest key
	TargetUserID string
	RunID        string
	Source       string
}

// Manual reports whether the trigger targets a single user
func (t Trigger) Manual() bool {
	return t.TargetUserID != ""
}

// Job is one notification family
type Job interface {
	Type() domain.JobType
	// Parse decodes and validates a trigger body
	Parse(body []byte) (Trigger, error)
	// RunKey derives the organic run key; now is in the scheduling time zone
	RunKey(t Trigger, now time.Time) string
	// Prepare loads what the run needs before selection
	Prepare(ctx context.Context, t Trigger) (Plan, error)
}

// Plan is one prepared run of a job
type Plan interface {
	Audience() eligibility.Audience
	Compose(ctx context.Context, r eligibility.Recipient) (*dispatch.Message, error)
}

// QuotaReporter is implemented by plans that generate content under a
// provider quota
type QuotaReporter interface {
	QuotaExhausted() bool
}

package domain

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobType identifies a notification family and the job that sends it
type JobType string

const (
	JobDailyMessages    JobType = "daily_messages"
	JobTrivia           JobType = "trivia"
	JobGenerationDigest JobType = "generation_digest"
)

// Valid reports whether t names a known job
func (t JobType) Valid() bool {
	switch t {
	case JobDailyMessages, JobTrivia, JobGenerationDigest:
		return true
	}
	return false
}

// Channel is a delivery channel
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// PreferredChannel is the recipient's channel preference
type PreferredChannel string

const (
	PreferInApp PreferredChannel = "in_app"
	PreferEmail PreferredChannel = "email"
	PreferBoth  PreferredChannel = "both"
)

// Allows reports whether the preference permits delivery over ch.
// An unset preference behaves like in_app.
func (p PreferredChannel) Allows(ch Channel) bool {
	switch p {
	case PreferBoth:
		return true
	case PreferEmail:
		return ch == ChannelEmail
	case PreferInApp, "":
		return ch == ChannelInApp
	}
	return false
}

// Profile is a recipient profile. Jobs only read it.
type Profile struct {
	ID                   string           `json:"id" bson:"_id"`
	DisplayName          string           `json:"display_name" bson:"display_name"`
	FirstName            string           `json:"first_name,omitempty" bson:"first_name,omitempty"`
	Email                string           `json:"email,omitempty" bson:"email,omitempty"`
	Locale               string           `json:"locale,omitempty" bson:"locale,omitempty"`
	NotificationsEnabled bool             `json:"notifications_enabled" bson:"notifications_enabled"`
	PreferredChannel     PreferredChannel `json:"preferred_channel" bson:"preferred_channel"`
	QuietHoursStart      string           `json:"quiet_hours_start,omitempty" bson:"quiet_hours_start,omitempty"`
	QuietHoursEnd        string           `json:"quiet_hours_end,omitempty" bson:"quiet_hours_end,omitempty"`
	Timezone             string           `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Roles                []string         `json:"roles,omitempty" bson:"roles,omitempty"`
	SubscriptionActive   bool             `json:"subscription_active" bson:"subscription_active"`
	AgeSegment           string           `json:"age_segment,omitempty" bson:"age_segment,omitempty"`
	FocusAreas           []string         `json:"focus_areas,omitempty" bson:"focus_areas,omitempty"`
	Companion            string           `json:"companion,omitempty" bson:"companion,omitempty"`
}

// Name returns the name used to address the recipient
func (p *Profile) Name() string {
	if n := strings.TrimSpace(p.FirstName); n != "" {
		return n
	}
	if n := strings.TrimSpace(p.DisplayName); n != "" {
		return n
	}
	return "friend"
}

// HasRole reports whether the profile carries role
func (p *Profile) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Location returns the profile's time zone, UTC when unset or unknown
func (p *Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MoodEntry is a mood check-in
type MoodEntry struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"user_id" bson:"user_id"`
	Mood      string             `json:"mood" bson:"mood"`
	Score     int                `json:"score" bson:"score"`
	Note      string             `json:"note,omitempty" bson:"note,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// NotificationStatus represents the status of a channel attempt
type NotificationStatus string

const (
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusSkipped NotificationStatus = "skipped"
)

// NotificationRecord is one channel attempt for one recipient in one job run.
// In-app records double as the notification shown in the app.
type NotificationRecord struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"user_id" bson:"user_id"`
	Channel   Channel            `json:"channel" bson:"channel"`
	JobType   JobType            `json:"job_type" bson:"job_type"`
	RunKey    string             `json:"run_key" bson:"run_key"`
	Status    NotificationStatus `json:"status" bson:"status"`
	Reason    string             `json:"reason,omitempty" bson:"reason,omitempty"`
	Title     string             `json:"title,omitempty" bson:"title,omitempty"`
	Body      string             `json:"body,omitempty" bson:"body,omitempty"`
	Payload   map[string]any     `json:"payload,omitempty" bson:"payload,omitempty"`
	Error     string             `json:"error,omitempty" bson:"error,omitempty"`
	Attempts  int                `json:"attempts" bson:"attempts"`
	Read      bool               `json:"read" bson:"read"`
	Manual    bool               `json:"manual,omitempty" bson:"manual,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// JobStatus is the lifecycle state of a job log
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ChannelDetail is the persisted form of one channel outcome
type ChannelDetail struct {
	Channel  Channel            `json:"channel" bson:"channel"`
	Status   NotificationStatus `json:"status" bson:"status"`
	Reason   string             `json:"reason,omitempty" bson:"reason,omitempty"`
	Attempts int                `json:"attempts" bson:"attempts"`
	Error    string             `json:"error,omitempty" bson:"error,omitempty"`
	At       time.Time          `json:"at" bson:"at"`
}

// RecipientDetail is the per-recipient entry of a job log
type RecipientDetail struct {
	UserID     string          `json:"user_id" bson:"user_id"`
	TemplateID string          `json:"template_id,omitempty" bson:"template_id,omitempty"`
	Channels   []ChannelDetail `json:"channels" bson:"channels"`
	Error      string          `json:"error,omitempty" bson:"error,omitempty"`
	Stack      string          `json:"stack,omitempty" bson:"stack,omitempty"`
}

// JobLog is one row per job invocation, keyed uniquely by RunKey
type JobLog struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RunKey           string             `json:"run_key" bson:"run_key"`
	JobType          JobType            `json:"job_type" bson:"job_type"`
	Window           string             `json:"window,omitempty" bson:"window,omitempty"`
	Status           JobStatus          `json:"status" bson:"status"`
	ManualBypass     bool               `json:"manual_bypass" bson:"manual_bypass"`
	TargetUserID     string             `json:"target_user_id,omitempty" bson:"target_user_id,omitempty"`
	Source           string             `json:"source,omitempty" bson:"source,omitempty"`
	Recipients       int                `json:"recipients" bson:"recipients"`
	Targeted         int                `json:"targeted" bson:"targeted"`
	Sent             int                `json:"sent" bson:"sent"`
	Failed           int                `json:"failed" bson:"failed"`
	Skipped          int                `json:"skipped" bson:"skipped"`
	RecipientsFailed int                `json:"recipients_failed" bson:"recipients_failed"`
	Detail           []RecipientDetail  `json:"detail,omitempty" bson:"detail,omitempty"`
	DetailTruncated  bool               `json:"detail_truncated,omitempty" bson:"detail_truncated,omitempty"`
	Error            string             `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt        time.Time          `json:"started_at" bson:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// ContentTemplate is a static message template gated by eligibility rules
type ContentTemplate struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Family       JobType            `json:"family" bson:"family"`
	TriviaType   string             `json:"trivia_type,omitempty" bson:"trivia_type,omitempty"`
	Locale       string             `json:"locale,omitempty" bson:"locale,omitempty"`
	AgeSegments  []string           `json:"age_segments,omitempty" bson:"age_segments,omitempty"`
	FocusArea    string             `json:"focus_area,omitempty" bson:"focus_area,omitempty"`
	TimeOfDay    string             `json:"time_of_day,omitempty" bson:"time_of_day,omitempty"`
	CooldownDays int                `json:"cooldown_days" bson:"cooldown_days"`
	Priority     int                `json:"priority" bson:"priority"`
	Active       bool               `json:"active" bson:"active"`
	Subject      string             `json:"subject,omitempty" bson:"subject,omitempty"`
	Title        string             `json:"title" bson:"title"`
	Body         string             `json:"body" bson:"body"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

// TemplateDelivery records that a template reached a recipient
type TemplateDelivery struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TemplateID  primitive.ObjectID `json:"template_id" bson:"template_id"`
	UserID      string             `json:"user_id" bson:"user_id"`
	RunKey      string             `json:"run_key" bson:"run_key"`
	DeliveredAt time.Time          `json:"delivered_at" bson:"delivered_at"`
}

// EmailBounce represents an email bounce record
type EmailBounce struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Email     string             `json:"email" bson:"email"`
	Type      string             `json:"type" bson:"type"` // hard, soft, complaint
	Reason    string             `json:"reason" bson:"reason"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// EventType represents the type of a published event
type EventType string

const (
	EventJobCompleted EventType = "job.completed"
)

// JobCompletedEvent is published once a job log is finalized
type JobCompletedEvent struct {
	Type         EventType  `json:"type"`
	JobLogID     string     `json:"job_log_id"`
	RunKey       string     `json:"run_key"`
	JobType      JobType    `json:"job_type"`
	Status       JobStatus  `json:"status"`
	ManualBypass bool       `json:"manual_bypass"`
	Metrics      JobMetrics `json:"metrics"`
	Error        string     `json:"error,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

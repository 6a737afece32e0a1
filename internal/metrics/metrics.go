package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns tracks finished job invocations
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_job_runs_total",
			Help: "Total number of finished job runs",
		},
		[]string{"job", "status", "manual"},
	)

	// JobDuplicates tracks invocations rejected because their run key was already claimed
	JobDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_job_duplicates_total",
			Help: "Total number of job invocations rejected as duplicates",
		},
		[]string{"job"},
	)

	// JobDuration tracks job run duration
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wellness_notifier_job_duration_seconds",
			Help:    "Job run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// ChannelOutcomes tracks per-channel delivery outcomes. Manual runs carry
	// manual="true" so they are never conflated with organic sends.
	ChannelOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_channel_outcomes_total",
			Help: "Total number of channel delivery outcomes",
		},
		[]string{"job", "channel", "status", "reason", "manual"},
	)

	// RecipientsTargeted tracks recipients selected per job
	RecipientsTargeted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_recipients_total",
			Help: "Total number of recipients selected by job runs",
		},
		[]string{"job", "manual"},
	)

	// LLMCalls tracks content generation calls
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_llm_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"result"}, // ok, rate_limited, quota_exhausted, provider_error, timeout, malformed_response
	)

	// EmailAttempts tracks email provider send attempts
	EmailAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_email_attempts_total",
			Help: "Total number of email provider send attempts",
		},
		[]string{"result"}, // ok, retryable, permanent
	)

	// EmailBounces tracks email bounce events
	EmailBounces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_email_bounces_total",
			Help: "Total number of email bounce events",
		},
		[]string{"type"}, // hard, soft, complaint
	)

	// SignatureRejections tracks trigger requests with invalid signatures
	SignatureRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_signature_rejections_total",
			Help: "Total number of trigger requests rejected for a bad signature",
		},
		[]string{"source"}, // http, amqp
	)

	// RateLimitExceeded tracks rate limit violations
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_notifier_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"route"},
	)

	// StaleRunsReaped tracks job logs abandoned in running state
	StaleRunsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wellness_notifier_stale_runs_reaped_total",
			Help: "Total number of abandoned running job logs marked failed",
		},
	)

	// ConsumerRestarts tracks trigger consumer restart events
	ConsumerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wellness_notifier_consumer_restarts_total",
			Help: "Total number of trigger consumer restarts",
		},
	)
)

// ManualLabel renders the manual label value
func ManualLabel(manual bool) string {
	if manual {
		return "true"
	}
	return "false"
}

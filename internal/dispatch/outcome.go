// Package dispatch delivers a message to a recipient over its channels and
// records every channel attempt.
package dispatch

import (
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
)

// Kind is the closed set of channel outcomes
type Kind string

const (
	KindSent    Kind = "sent"
	KindFailed  Kind = "failed"
	KindSkipped Kind = "skipped"
)

// Outcome reasons
const (
	ReasonInvalidAddress       = "invalid_address"
	ReasonProviderError        = "provider_error"
	ReasonRetriesExhausted     = "retries_exhausted"
	ReasonSkippedMisconfigured = "skipped_misconfigured"
	ReasonSuppressed           = "suppressed"
	ReasonStoreError           = "store_error"
	ReasonInternalError        = "internal_error"
	ReasonRunCancelled         = "run_cancelled"
	ReasonGenerationPrefix     = "generation_"
)

// Outcome is the result of one channel attempt. Build it with Sent, Failed
// or Skipped.
type Outcome struct {
	Channel  domain.Channel
	Kind     Kind
	Reason   string
	Attempts int
	Err      string
	At       time.Time

	// recorded is set when the channel's own write is the notification record
	recorded bool
}

// Sent is a delivered outcome
func Sent(ch domain.Channel, attempts int) Outcome {
	return Outcome{Channel: ch, Kind: KindSent, Attempts: attempts, At: time.Now()}
}

// Failed is a failed outcome
func Failed(ch domain.Channel, reason string, err error, attempts int) Outcome {
	o := Outcome{Channel: ch, Kind: KindFailed, Reason: reason, Attempts: attempts, At: time.Now()}
	if err != nil {
		o.Err = err.Error()
	}
	return o
}

// Skipped is an outcome where no delivery was attempted
func Skipped(ch domain.Channel, reason string) Outcome {
	return Outcome{Channel: ch, Kind: KindSkipped, Reason: reason, At: time.Now()}
}

// Status maps the outcome kind to a notification status
func (o Outcome) Status() domain.NotificationStatus {
	switch o.Kind {
	case KindSent:
		return domain.NotificationStatusSent
	case KindSkipped:
		return domain.NotificationStatusSkipped
	default:
		return domain.NotificationStatusFailed
	}
}

// Detail converts the outcome to its persisted form
func (o Outcome) Detail() domain.ChannelDetail {
	return domain.ChannelDetail{
		Channel:  o.Channel,
		Status:   o.Status(),
		Reason:   o.Reason,
		Attempts: o.Attempts,
		Error:    o.Err,
		At:       o.At,
	}
}

// RecipientResult holds every channel outcome for one recipient
type RecipientResult struct {
	UserID     string
	TemplateID string
	Outcomes   []Outcome
	Err        string
	Stack      string
}

// AnySent reports whether at least one channel delivered
func (r RecipientResult) AnySent() bool {
	for _, o := range r.Outcomes {
		if o.Kind == KindSent {
			return true
		}
	}
	return false
}

// FullyFailed reports whether every attempted channel failed. Skipped
// channels were not attempted; a recipient with only skips has not failed.
func (r RecipientResult) FullyFailed() bool {
	attempted := 0
	for _, o := range r.Outcomes {
		switch o.Kind {
		case KindSent:
			return false
		case KindFailed:
			attempted++
		}
	}
	return attempted > 0
}

// Detail converts the result to its persisted form
func (r RecipientResult) Detail() domain.RecipientDetail {
	d := domain.RecipientDetail{
		UserID:     r.UserID,
		TemplateID: r.TemplateID,
		Channels:   make([]domain.ChannelDetail, 0, len(r.Outcomes)),
		Error:      r.Err,
		Stack:      r.Stack,
	}
	for _, o := range r.Outcomes {
		d.Channels = append(d.Channels, o.Detail())
	}
	return d
}

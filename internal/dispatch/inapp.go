package dispatch

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
)

// RecordStore appends notification records
type RecordStore interface {
	Insert(ctx context.Context, rec *domain.NotificationRecord) error
}

// Message is what a recipient receives
type Message struct {
	Title      string
	Body       string
	Subject    string
	HTML       string
	TemplateID string
	Payload    map[string]any
}

// Delivery is one recipient's message within a run
type Delivery struct {
	Profile   *domain.Profile
	Message   *Message
	JobType   domain.JobType
	RunKey    string
	Manual    bool
	Preflight *Preflight
}

// Preflight is the run-level email provider check
type Preflight struct {
	Healthy bool
	Error   string
}

// Channel delivers a message over one medium
type Channel interface {
	Name() domain.Channel
	Deliver(ctx context.Context, d *Delivery) Outcome
}

// InAppChannel writes the notification row the app displays. The write is
// the delivery, so it is not retried.
type InAppChannel struct {
	store RecordStore
}

// NewInAppChannel creates the in-app channel
func NewInAppChannel(store RecordStore) *InAppChannel {
	return &InAppChannel{store: store}
}

// Name returns the channel name
func (c *InAppChannel) Name() domain.Channel {
	return domain.ChannelInApp
}

// Deliver inserts the in-app notification
func (c *InAppChannel) Deliver(ctx context.Context, d *Delivery) Outcome {
	rec := newRecord(d, domain.ChannelInApp)
	rec.Status = domain.NotificationStatusSent
	rec.Attempts = 1

	if err := c.store.Insert(ctx, rec); err != nil {
		return Failed(domain.ChannelInApp, ReasonStoreError, err, 1)
	}
	o := Sent(domain.ChannelInApp, 1)
	o.recorded = true
	return o
}

func newRecord(d *Delivery, ch domain.Channel) *domain.NotificationRecord {
	return &domain.NotificationRecord{
		UserID:    d.Profile.ID,
		Channel:   ch,
		JobType:   d.JobType,
		RunKey:    d.RunKey,
		Title:     d.Message.Title,
		Body:      d.Message.Body,
		Payload:   d.Message.Payload,
		Manual:    d.Manual,
		CreatedAt: time.Now(),
	}
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/templates"
)

// Trivia notification types
const (
	TriviaReminder = "reminder"
	TriviaStart    = "start"
)

// TemplateSource loads the active templates of a family
type TemplateSource interface {
	FindActive(ctx context.Context, family domain.JobType, triviaType string) ([]*domain.ContentTemplate, error)
}

// TriviaJob announces the weekly trivia from static templates
type TriviaJob struct {
	templates  TemplateSource
	deliveries templates.DeliveryLookup
	now        func() time.Time
}

// NewTriviaJob creates the trivia job
func NewTriviaJob(source TemplateSource, deliveries templates.DeliveryLookup) *TriviaJob {
	return &TriviaJob{templates: source, deliveries: deliveries, now: time.Now}
}

// Type returns the job type
func (j *TriviaJob) Type() domain.JobType {
	return domain.JobTrivia
}

// Parse decodes a trivia trigger
func (j *TriviaJob) Parse(body []byte) (Trigger, error) {
	var req domain.TriviaRequest
	if err := decode(body, &req); err != nil {
		return Trigger{}, err
	}
	return Trigger{Type: req.Type, Key: req.WeekKey, TargetUserID: req.TestUserID, RunID: req.RunID}, nil
}

// RunKey is trivia:<type>:<week key>
func (j *TriviaJob) RunKey(t Trigger, _ time.Time) string {
	return fmt.Sprintf("%s:%s:%s", domain.JobTrivia, t.Type, t.Key)
}

// Prepare loads the candidate templates for the trivia type
func (j *TriviaJob) Prepare(ctx context.Context, t Trigger) (Plan, error) {
	candidates, err := j.templates.FindActive(ctx, domain.JobTrivia, t.Type)
	if err != nil {
		return nil, errors.Wrap(err, "load trivia templates")
	}
	return &triviaPlan{
		trigger: t,
		gate:    templates.NewGate(candidates, j.deliveries, j.now),
	}, nil
}

type triviaPlan struct {
	trigger Trigger
	gate    *templates.Gate
}

func (p *triviaPlan) Audience() eligibility.Audience {
	return eligibility.Audience{
		Family:    domain.JobTrivia,
		Channels:  []domain.Channel{domain.ChannelInApp, domain.ChannelEmail},
		DailyCap:  1,
		Templates: p.gate,
	}
}

func (p *triviaPlan) Compose(_ context.Context, r eligibility.Recipient) (*dispatch.Message, error) {
	t := r.Template
	if t == nil {
		return nil, errors.Newf("no template selected for %s", r.Profile.ID)
	}

	title := templates.Render(t.Title, r.Profile)
	subject := title
	if t.Subject != "" {
		subject = templates.Render(t.Subject, r.Profile)
	}
	return &dispatch.Message{
		Title:      title,
		Body:       templates.Render(t.Body, r.Profile),
		Subject:    subject,
		TemplateID: t.ID.Hex(),
		Payload: map[string]any{
			"trivia_type": p.trigger.Type,
			"week_key":    p.trigger.Key,
			"template_id": t.ID.Hex(),
		},
	}, nil
}

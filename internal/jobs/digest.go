package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/content"
	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
)

// DigestJob emails subscribers a weekly recap written by the LLM
type DigestJob struct {
	gen *content.Generator
}

// NewDigestJob creates the generation digest job
func NewDigestJob(gen *content.Generator) *DigestJob {
	return &DigestJob{gen: gen}
}

// Type returns the job type
func (j *DigestJob) Type() domain.JobType {
	return domain.JobGenerationDigest
}

// Parse decodes a digest trigger; every field is optional
func (j *DigestJob) Parse(body []byte) (Trigger, error) {
	var req domain.DigestRequest
	if err := decode(body, &req); err != nil {
		return Trigger{}, err
	}
	return Trigger{Key: req.DigestKey, TargetUserID: req.TestUserID, RunID: req.RunID}, nil
}

// RunKey is generation_digest:<digest key>, defaulting the key to the date
func (j *DigestJob) RunKey(t Trigger, now time.Time) string {
	key := t.Key
	if key == "" {
		key = now.Format("2006-01-02")
	}
	return fmt.Sprintf("%s:%s", domain.JobGenerationDigest, key)
}

// Prepare starts a generation session for the run
func (j *DigestJob) Prepare(context.Context, Trigger) (Plan, error) {
	return &digestPlan{session: j.gen.NewSession()}, nil
}

type digestPlan struct {
	session *content.Session
}

func (p *digestPlan) Audience() eligibility.Audience {
	return eligibility.Audience{
		Family:              domain.JobGenerationDigest,
		Channels:            []domain.Channel{domain.ChannelEmail},
		RequireSubscription: true,
		DailyCap:            1,
	}
}

func (p *digestPlan) QuotaExhausted() bool {
	return p.session.Exhausted()
}

func (p *digestPlan) Compose(ctx context.Context, r eligibility.Recipient) (*dispatch.Message, error) {
	text, err := p.session.Digest(ctx, r.Profile)
	if err != nil {
		return nil, err
	}
	persona := content.Persona(r.Profile.Companion)
	title := fmt.Sprintf("Your week with %s", persona.Name)
	return &dispatch.Message{
		Title:   title,
		Body:    text,
		Subject: title,
		Payload: map[string]any{
			"companion":   persona.Name,
			"period_days": content.DigestDays,
		},
	}, nil
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/content"
	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
)

// Daily message windows
const (
	WindowMorning = "morning"
	WindowEvening = "evening"
	WindowManual  = "manual"
)

// DailyMessageJob sends the companion's daily message over in-app and email
type DailyMessageJob struct {
	gen      *content.Generator
	dailyCap int
}

// NewDailyMessageJob creates the daily messages job. dailyCap bounds how
// many daily messages a recipient gets per local day.
func NewDailyMessageJob(gen *content.Generator, dailyCap int) *DailyMessageJob {
	return &DailyMessageJob{gen: gen, dailyCap: dailyCap}
}

// Type returns the job type
func (j *DailyMessageJob) Type() domain.JobType {
	return domain.JobDailyMessages
}

// Parse decodes a daily messages trigger. A missing window means manual,
// which requires a test user.
func (j *DailyMessageJob) Parse(body []byte) (Trigger, error) {
	var req domain.DailyMessagesRequest
	if err := decode(body, &req); err != nil {
		return Trigger{}, err
	}
	window := req.WindowType
	if window == "" {
		window = WindowManual
	}
	if window == WindowManual && req.TestUserID == "" {
		return Trigger{}, errors.New("windowType is required unless testUserId is set")
	}
	return Trigger{Window: window, TargetUserID: req.TestUserID, RunID: req.RunID}, nil
}

// RunKey is daily_messages:<window>:<date>
func (j *DailyMessageJob) RunKey(t Trigger, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", domain.JobDailyMessages, t.Window, now.Format("2006-01-02"))
}

// Prepare starts a generation session for the run
func (j *DailyMessageJob) Prepare(_ context.Context, t Trigger) (Plan, error) {
	return &dailyPlan{job: j, window: t.Window, session: j.gen.NewSession()}, nil
}

type dailyPlan struct {
	job     *DailyMessageJob
	window  string
	session *content.Session
}

func (p *dailyPlan) Audience() eligibility.Audience {
	return eligibility.Audience{
		Family:   domain.JobDailyMessages,
		Channels: []domain.Channel{domain.ChannelInApp, domain.ChannelEmail},
		DailyCap: p.job.dailyCap,
	}
}

func (p *dailyPlan) QuotaExhausted() bool {
	return p.session.Exhausted()
}

func (p *dailyPlan) Compose(ctx context.Context, r eligibility.Recipient) (*dispatch.Message, error) {
	window := p.window
	if window == WindowManual {
		window = dailyWindow(r.LocalTime)
	}
	text, err := p.session.DailyMessage(ctx, r.Profile, window)
	if err != nil {
		return nil, err
	}

	persona := content.Persona(r.Profile.Companion)
	title := fmt.Sprintf("A note from %s", persona.Name)
	switch window {
	case WindowMorning:
		title = fmt.Sprintf("Good morning, %s", r.Profile.Name())
	case WindowEvening:
		title = fmt.Sprintf("Good evening, %s", r.Profile.Name())
	}

	return &dispatch.Message{
		Title:   title,
		Body:    text,
		Subject: title,
		Payload: map[string]any{
			"window":    window,
			"companion": persona.Name,
		},
	}, nil
}

// dailyWindow picks the tone of a manual run from the recipient's local hour
func dailyWindow(local time.Time) string {
	if h := local.Hour(); h >= 4 && h < 15 {
		return WindowMorning
	}
	return WindowEvening
}

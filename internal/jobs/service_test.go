package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-wellness-notifier/internal/content"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	apperrors "github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDailyMessageJob_Parse(t *testing.T) {
	job := NewDailyMessageJob(content.NewGenerator(&fakeLLM{}, nil), 2)

	tests := []struct {
		name    string
		body    string
		want    Trigger
		wantErr bool
	}{
		{"morning", `{"windowType":"morning"}`, Trigger{Window: WindowMorning}, false},
		{"run id", `{"windowType":"evening","runId":"r-1"}`, Trigger{Window: WindowEvening, RunID: "r-1"}, false},
		{"missing window with test user", `{"testUserId":"u1"}`, Trigger{Window: WindowManual, TargetUserID: "u1"}, false},
		{"missing window", `{}`, Trigger{}, true},
		{"manual without test user", `{"windowType":"manual"}`, Trigger{}, true},
		{"unknown window", `{"windowType":"noon"}`, Trigger{}, true},
		{"malformed", `{"windowType":`, Trigger{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := job.Parse([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriviaJob_Parse(t *testing.T) {
	job := NewTriviaJob(nil, nil)

	got, err := job.Parse([]byte(`{"type":"start","week_key":"2026-W42"}`))
	require.NoError(t, err)
	assert.Equal(t, Trigger{Type: TriviaStart, Key: "2026-W42"}, got)

	_, err = job.Parse([]byte(`{"type":"start"}`))
	assert.Error(t, err, "week_key is required")

	_, err = job.Parse([]byte(`{"type":"results","week_key":"2026-W42"}`))
	assert.Error(t, err)
}

func TestDigestJob_ParseEmptyBody(t *testing.T) {
	job := NewDigestJob(content.NewGenerator(&fakeLLM{}, nil))

	got, err := job.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Trigger{}, got)
}

func TestRunKeys(t *testing.T) {
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

	daily := NewDailyMessageJob(nil, 2)
	assert.Equal(t, "daily_messages:morning:2026-10-15", daily.RunKey(Trigger{Window: WindowMorning}, now))

	trivia := NewTriviaJob(nil, nil)
	assert.Equal(t, "trivia:reminder:2026-W42", trivia.RunKey(Trigger{Type: TriviaReminder, Key: "2026-W42"}, now))

	digest := NewDigestJob(nil)
	assert.Equal(t, "generation_digest:2026-10-15", digest.RunKey(Trigger{}, now))
	assert.Equal(t, "generation_digest:week-42", digest.RunKey(Trigger{Key: "week-42"}, now))
}

func TestService_Execute(t *testing.T) {
	f := newFixture(memProfiles{profile("ana", domain.PreferInApp)}, 1)
	svc := NewService(f.runner, f.dailyJob())

	_, err := svc.Execute(context.Background(), domain.JobDailyMessages, []byte(`{}`), SourceHTTP)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)

	_, err = svc.Execute(context.Background(), domain.JobTrivia, []byte(`{}`), SourceHTTP)
	require.ErrorAs(t, err, &appErr)

	res, err := svc.Execute(context.Background(), domain.JobDailyMessages, []byte(`{"windowType":"morning"}`), SourceHTTP)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Sent)
	assert.Equal(t, SourceHTTP, f.logs.get(res.RunKey).Source)
}

type memTemplates []*domain.ContentTemplate

func (m memTemplates) FindActive(context.Context, domain.JobType, string) ([]*domain.ContentTemplate, error) {
	return m, nil
}

type memDeliveries struct {
	last     map[primitive.ObjectID]time.Time
	recorded []*domain.TemplateDelivery
}

func (m *memDeliveries) LastDelivered(context.Context, string, []primitive.ObjectID) (map[primitive.ObjectID]time.Time, error) {
	return m.last, nil
}

func (m *memDeliveries) Record(_ context.Context, d *domain.TemplateDelivery) error {
	m.recorded = append(m.recorded, d)
	return nil
}

func TestTriviaJob_SendsTemplateAndRecordsDelivery(t *testing.T) {
	f := newFixture(memProfiles{profile("ana", domain.PreferInApp)}, 1)
	tpl := &domain.ContentTemplate{
		ID:       primitive.NewObjectID(),
		Family:   domain.JobTrivia,
		Active:   true,
		Priority: 1,
		Title:    "Trivia night, {{name}}",
		Body:     "This week's questions are up.",
	}
	deliveries := &memDeliveries{}
	f.runner.WithTemplateDeliveries(deliveries)

	res, err := f.runner.Run(context.Background(), NewTriviaJob(memTemplates{tpl}, deliveries), Trigger{Type: TriviaStart, Key: "2026-W42"})
	require.NoError(t, err)

	assert.Equal(t, "trivia:start:2026-W42", res.RunKey)
	assert.Equal(t, 1, res.Summary.Sent)
	assert.Equal(t, tpl.ID.Hex(), res.Summary.Detail[0].TemplateID)
	require.Len(t, deliveries.recorded, 1)
	assert.Equal(t, tpl.ID, deliveries.recorded[0].TemplateID)

	f.records.mu.Lock()
	defer f.records.mu.Unlock()
	assert.Equal(t, "Trivia night, Ana", f.records.recs[0].Title)
}

func TestTriviaJob_CooldownExcludesRecipient(t *testing.T) {
	f := newFixture(memProfiles{profile("ana", domain.PreferInApp)}, 1)
	tpl := &domain.ContentTemplate{ID: primitive.NewObjectID(), Family: domain.JobTrivia, Active: true, CooldownDays: 14, Title: "Trivia", Body: "Play"}
	deliveries := &memDeliveries{last: map[primitive.ObjectID]time.Time{tpl.ID: time.Now().Add(-48 * time.Hour)}}

	res, err := f.runner.Run(context.Background(), NewTriviaJob(memTemplates{tpl}, deliveries), Trigger{Type: TriviaReminder, Key: "2026-W42"})
	require.NoError(t, err)
	assert.Zero(t, res.Summary.Recipients)
	assert.Zero(t, f.records.count())
}

func TestDigestJob_RequiresSubscriptionAndEmail(t *testing.T) {
	subscriber := profile("ana", domain.PreferEmail)
	subscriber.SubscriptionActive = true
	free := profile("ben", domain.PreferEmail)
	inAppOnly := profile("cy", domain.PreferInApp)
	inAppOnly.SubscriptionActive = true
	f := newFixture(memProfiles{subscriber, free, inAppOnly}, 2)

	res, err := f.runner.Run(context.Background(), NewDigestJob(content.NewGenerator(f.llm, nil)), Trigger{Key: "2026-W42"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.Recipients)
	assert.Equal(t, 1, res.Summary.Sent)
	assert.Equal(t, int32(1), f.sender.calls.Load())
}

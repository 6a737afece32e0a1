package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/jobs"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

const secret = "amqp-secret"

type fakeExecutor struct {
	res   *jobs.Result
	err   error
	calls int
}

func (f *fakeExecutor) Execute(context.Context, domain.JobType, []byte, string) (*jobs.Result, error) {
	f.calls++
	return f.res, f.err
}

func trigger(t *testing.T, job domain.JobType, body, sig string) []byte {
	t.Helper()
	if sig == "" {
		sig = signature.Sign([]byte(secret), []byte(body))
	}
	raw, err := json.Marshal(domain.TriggerMessage{Job: job, Body: body, Signature: sig})
	require.NoError(t, err)
	return raw
}

func TestHandle(t *testing.T) {
	okResult := &jobs.Result{RunKey: "trivia:start:2026-W42", Status: domain.JobStatusCompleted}
	failedResult := &jobs.Result{RunKey: "trivia:start:2026-W42", Status: domain.JobStatusFailed}
	body := `{"type":"start","week_key":"2026-W42"}`

	tests := []struct {
		name      string
		msg       func(t *testing.T) []byte
		exec      *fakeExecutor
		want      Decision
		wantCalls int
	}{
		{
			name:      "success",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, body, "") },
			exec:      &fakeExecutor{res: okResult},
			want:      Ack,
			wantCalls: 1,
		},
		{
			name:      "bad signature",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, body, "00ff") },
			exec:      &fakeExecutor{res: okResult},
			want:      Drop,
			wantCalls: 0,
		},
		{
			name:      "malformed",
			msg:       func(*testing.T) []byte { return []byte("{not json") },
			exec:      &fakeExecutor{},
			want:      Drop,
			wantCalls: 0,
		},
		{
			name:      "unknown job",
			msg:       func(t *testing.T) []byte { return trigger(t, "weekly_horoscope", body, "") },
			exec:      &fakeExecutor{},
			want:      Drop,
			wantCalls: 0,
		},
		{
			name:      "duplicate",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, body, "") },
			exec:      &fakeExecutor{err: errors.ErrAlreadyClaimed},
			want:      Ack,
			wantCalls: 1,
		},
		{
			name:      "claimed run failed",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, body, "") },
			exec:      &fakeExecutor{res: failedResult, err: errors.New("select recipients")},
			want:      Ack,
			wantCalls: 1,
		},
		{
			name:      "invalid body",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, `{}`, "") },
			exec:      &fakeExecutor{err: errors.NewValidationError("Invalid request", errors.New("week_key"))},
			want:      Drop,
			wantCalls: 1,
		},
		{
			name:      "claim failed",
			msg:       func(t *testing.T) []byte { return trigger(t, domain.JobTrivia, body, "") },
			exec:      &fakeExecutor{err: errors.New("insert job log: no reachable servers")},
			want:      Requeue,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTriggerConsumer(nil, tt.exec, signature.NewVerifier(secret, logger.Nop()), logger.Nop())
			got := c.Handle(context.Background(), tt.msg(t))
			assert.Equal(t, tt.want, got, "decision %s", got)
			assert.Equal(t, tt.wantCalls, tt.exec.calls)
		})
	}
}

func TestDrain_ConnectionCloseRestartsConsumer(t *testing.T) {
	c := NewTriggerConsumer(nil, &fakeExecutor{}, signature.NewVerifier(secret, logger.Nop()), logger.Nop())
	closed := make(chan *amqp091.Error, 1)
	closed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "broker shutdown"}

	err := c.drain(context.Background(), make(chan rabbitmq.Message), closed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
}

func TestDrain_StopsCleanlyWhenCancelled(t *testing.T) {
	c := NewTriggerConsumer(nil, &fakeExecutor{}, signature.NewVerifier(secret, logger.Nop()), logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	messages := make(chan rabbitmq.Message)
	close(messages)

	assert.NoError(t, c.drain(ctx, messages, make(chan *amqp091.Error)))
}

func TestDrain_ClosedDeliveriesWithoutCancel(t *testing.T) {
	c := NewTriggerConsumer(nil, &fakeExecutor{}, signature.NewVerifier(secret, logger.Nop()), logger.Nop())
	messages := make(chan rabbitmq.Message)
	close(messages)

	assert.Error(t, c.drain(context.Background(), messages, make(chan *amqp091.Error)))
}

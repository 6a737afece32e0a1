package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/jobs"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

const (
	// TriggerQueue is the durable queue trigger messages are consumed from
	TriggerQueue       = "notification_job_triggers"
	triggerConsumerTag = "wellness-notifier"
	restartDelay       = 5 * time.Second
)

// Decision is what happens to a consumed message
type Decision int

const (
	Ack Decision = iota
	Drop
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	default:
		return "requeue"
	}
}

// JobExecutor runs a job from a verified trigger body
type JobExecutor interface {
	Execute(ctx context.Context, jobType domain.JobType, body []byte, source string) (*jobs.Result, error)
}

// Dialer opens a broker connection
type Dialer func() (*rabbitmq.RabbitMQClient, error)

// TriggerConsumer runs jobs from signed trigger messages
type TriggerConsumer struct {
	dial     Dialer
	jobs     JobExecutor
	verifier *signature.Verifier
	log      *logger.Logger
}

// NewTriggerConsumer creates a new trigger consumer
func NewTriggerConsumer(dial Dialer, jobs JobExecutor, verifier *signature.Verifier, log *logger.Logger) *TriggerConsumer {
	return &TriggerConsumer{
		dial:     dial,
		jobs:     jobs,
		verifier: verifier,
		log:      log,
	}
}

// Run consumes until ctx is done, reconnecting after connection loss
func (c *TriggerConsumer) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			c.log.Error("Trigger consumer stopped", "error", err)
		}
		if ctx.Err() != nil {
			return
		}

		metrics.ConsumerRestarts.Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (c *TriggerConsumer) consume(ctx context.Context) error {
	client, err := c.dial()
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer client.Close()

	if err := client.DeclareQueue(TriggerQueue); err != nil {
		return errors.Wrap(err, "declare trigger queue")
	}
	// Jobs are long; take one at a time
	if err := client.Qos(1); err != nil {
		return errors.Wrap(err, "set qos")
	}

	closed := client.NotifyClose()
	messages, err := client.Consume(ctx, TriggerQueue, triggerConsumerTag)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}
	c.log.Info("Trigger consumer started", "queue", TriggerQueue)

	return c.drain(ctx, messages, closed)
}

// drain handles deliveries until the delivery channel or the connection
// closes. It returns nil only when ctx is done.
func (c *TriggerConsumer) drain(ctx context.Context, messages <-chan rabbitmq.Message, closed <-chan *amqp091.Error) error {
	for {
		select {
		case amqpErr := <-closed:
			if amqpErr != nil {
				return errors.Wrap(amqpErr, "connection closed")
			}
			return errors.New("connection closed")
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			switch c.Handle(ctx, msg.Body) {
			case Ack:
				_ = msg.Ack(false)
			case Drop:
				_ = msg.Nack(false, false)
			case Requeue:
				_ = msg.Nack(false, true)
			}
		}
	}
}

// Handle runs one trigger message. Malformed or badly signed messages are
// dropped; a run that was claimed, whether it succeeded, failed or was a
// duplicate, is acked so redelivery cannot repeat sends; only a failure
// before the claim is requeued.
func (c *TriggerConsumer) Handle(ctx context.Context, body []byte) Decision {
	var msg domain.TriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.Error("Failed to unmarshal trigger", "error", err)
		return Drop
	}
	if !msg.Job.Valid() {
		c.log.Error("Unknown job in trigger", "job", msg.Job)
		return Drop
	}

	payload := []byte(msg.Body)
	if !c.verifier.Verify(payload, msg.Signature) {
		metrics.SignatureRejections.WithLabelValues("amqp").Inc()
		c.log.Warn("Rejected trigger with invalid signature", "job", msg.Job)
		return Drop
	}

	res, err := c.jobs.Execute(ctx, msg.Job, payload, jobs.SourceAMQP)
	var appErr *errors.AppError
	switch {
	case err == nil:
		c.log.Info("Trigger processed", "job", msg.Job, "run_key", res.RunKey)
		return Ack
	case errors.Is(err, errors.ErrAlreadyClaimed):
		return Ack
	case res != nil:
		c.log.Error("Triggered job failed", "job", msg.Job, "run_key", res.RunKey, "error", err)
		return Ack
	case errors.As(err, &appErr):
		c.log.Error("Invalid trigger body", "job", msg.Job, "error", err)
		return Drop
	default:
		c.log.Error("Failed to start triggered job", "job", msg.Job, "error", err)
		return Requeue
	}
}

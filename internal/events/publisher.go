// Package events publishes job lifecycle events to the broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
)

// Exchange is the topic exchange job events are published to
const Exchange = "notification_jobs"

// Broker publishes raw messages
type Broker interface {
	DeclareExchange(name, kind string) error
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Publisher publishes job events
type Publisher struct {
	broker Broker
}

// NewPublisher declares the exchange and returns a publisher
func NewPublisher(broker Broker) (*Publisher, error) {
	if err := broker.DeclareExchange(Exchange, "topic"); err != nil {
		return nil, errors.Wrap(err, "declare job event exchange")
	}
	return &Publisher{broker: broker}, nil
}

// RoutingKey is job.completed.<job type>
func RoutingKey(event *domain.JobCompletedEvent) string {
	return fmt.Sprintf("%s.%s", event.Type, event.JobType)
}

// PublishJobCompleted publishes a job.completed event
func (p *Publisher) PublishJobCompleted(ctx context.Context, event *domain.JobCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal job event")
	}
	return p.broker.Publish(ctx, Exchange, RoutingKey(event), body)
}

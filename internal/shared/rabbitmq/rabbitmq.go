package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient wraps one connection and one channel. Publishes are
// serialized because an AMQP channel is not safe for concurrent use.
type RabbitMQClient struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	pubMu   sync.Mutex
}

// Message represents a RabbitMQ message
type Message struct {
	Body       []byte
	RoutingKey string
	delivery   amqp091.Delivery
}

// Ack acknowledges a message
func (m *Message) Ack(multiple bool) error {
	return m.delivery.Ack(multiple)
}

// Nack negative acknowledges a message
func (m *Message) Nack(multiple, requeue bool) error {
	return m.delivery.Nack(multiple, requeue)
}

// NewRabbitMQClient creates a new RabbitMQ client
func NewRabbitMQClient(url string) (*RabbitMQClient, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: channel,
	}, nil
}

// Qos limits unacknowledged deliveries on the channel
func (c *RabbitMQClient) Qos(prefetch int) error {
	return c.channel.Qos(prefetch, 0, false)
}

// NotifyClose returns a channel that receives the connection close error
func (c *RabbitMQClient) NotifyClose() <-chan *amqp091.Error {
	return c.conn.NotifyClose(make(chan *amqp091.Error, 1))
}

// DeclareExchange declares an exchange
func (c *RabbitMQClient) DeclareExchange(name, kind string) error {
	return c.channel.ExchangeDeclare(
		name,
		kind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}

// DeclareQueue declares a queue
func (c *RabbitMQClient) DeclareQueue(name string) error {
	_, err := c.channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Consume starts consuming messages from a queue with manual acks. The
// returned channel closes when the server cancels the consumer, the channel
// closes, or ctx is done.
func (c *RabbitMQClient) Consume(ctx context.Context, queue, consumerTag string) (<-chan Message, error) {
	msgs, err := c.channel.Consume(
		queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, err
	}

	// Convert to our Message type
	messageChan := make(chan Message)
	go func() {
		defer close(messageChan)
		for d := range msgs {
			select {
			case messageChan <- Message{Body: d.Body, RoutingKey: d.RoutingKey, delivery: d}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()

	return messageChan, nil
}

// Publish publishes a persistent JSON message to an exchange
func (c *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	return c.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Close closes the RabbitMQ connection
func (c *RabbitMQClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

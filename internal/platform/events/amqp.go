package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// Exchange is the durable topic exchange every event is published to.
	Exchange = "medmitra.events"

	retryHeader = "x-medmitra-attempt"
)

// Dial connects to RabbitMQ and declares the events exchange.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	return conn, nil
}

// AMQPPublisher publishes persistent messages and waits for the broker's
// confirm before returning.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPPublisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, Exchange, evt.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	select {
	case c, ok := <-p.confirms:
		if !ok {
			return errors.New("publish channel closed")
		}
		if !c.Ack {
			return fmt.Errorf("publish %s: broker nacked", evt.Type)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", evt.Type, ctx.Err())
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// QueueSpec describes a consumer queue and its bindings.
type QueueSpec struct {
	Name       string
	Bindings   []string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	// DeadLetter, when set, receives messages that failed MaxAttempts times.
	DeadLetter  string
	MaxAttempts int
	Prefetch    int
}

// Consumer runs a handler over a queue bound to the events exchange.
type Consumer struct {
	conn   *amqp.Connection
	spec   QueueSpec
	logger zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, spec QueueSpec, logger zerolog.Logger) *Consumer {
	if spec.Prefetch <= 0 {
		spec.Prefetch = 10
	}
	if spec.MaxAttempts <= 0 {
		spec.MaxAttempts = 1
	}
	return &Consumer{conn: conn, spec: spec, logger: logger.With().Str("queue", spec.Name).Logger()}
}

func (c *Consumer) declare(ch *amqp.Channel) error {
	if c.spec.DeadLetter != "" {
		if _, err := ch.QueueDeclare(c.spec.DeadLetter, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", c.spec.DeadLetter, err)
		}
	}
	if _, err := ch.QueueDeclare(c.spec.Name, c.spec.Durable, c.spec.AutoDelete, c.spec.Exclusive, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.spec.Name, err)
	}
	for _, key := range c.spec.Bindings {
		if err := ch.QueueBind(c.spec.Name, key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", c.spec.Name, key, err)
		}
	}
	return ch.Qos(c.spec.Prefetch, 0, false)
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.spec.Name, "", false, c.spec.Exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.spec.Name, err)
	}
	c.logger.Info().Strs("bindings", c.spec.Bindings).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, ch, d, h)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, h Handler) {
	var evt Event
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		c.logger.Error().Err(err).Msg("drop malformed message")
		_ = d.Nack(false, false)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := h(hctx, evt)
	cancel()
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := attemptOf(d.Headers) + 1
	log := c.logger.Warn().Err(err).Str("event", evt.Type).Str("event_id", evt.ID).Int("attempt", attempt)

	switch nextStep(attempt, c.spec.MaxAttempts, c.spec.DeadLetter != "") {
	case stepRetry:
		log.Msg("handler failed, retrying")
		if perr := c.republish(ctx, ch, c.spec.Name, d, attempt); perr != nil {
			c.logger.Error().Err(perr).Msg("requeue failed")
			_ = d.Nack(false, true)
			return
		}
	case stepDeadLetter:
		log.Msg("handler failed, dead-lettering")
		if perr := c.republish(ctx, ch, c.spec.DeadLetter, d, attempt); perr != nil {
			c.logger.Error().Err(perr).Msg("dead-letter failed")
			_ = d.Nack(false, true)
			return
		}
	default:
		log.Msg("handler failed, dropping")
	}
	_ = d.Ack(false)
}

// republish sends the delivery to queue via the default exchange with the
// attempt counter bumped.
func (c *Consumer) republish(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Headers:      headers,
		Body:         d.Body,
	})
}

type step int

const (
	stepDrop step = iota
	stepRetry
	stepDeadLetter
)

func nextStep(attempt, maxAttempts int, hasDLQ bool) step {
	if attempt < maxAttempts {
		return stepRetry
	}
	if hasDLQ {
		return stepDeadLetter
	}
	return stepDrop
}

func attemptOf(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/events"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// RoutingPrefix is prepended to every routing key: <prefix>.<service>.<event>.
const RoutingPrefix = "saga"

type Publisher struct {
	client     *RabbitMQClient
	maxRetries int
	backoff    func(attempt int) time.Duration
	send       func(event events.PaymentEvent) error
	log        *log.Helper
}

func NewPublisher(client *RabbitMQClient, maxRetries int, logger log.Logger) *Publisher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	p := &Publisher{
		client:     client,
		maxRetries: maxRetries,
		backoff:    linearBackoff,
		log:        log.NewHelper(log.With(logger, "component", "publisher")),
	}
	p.send = p.publish
	return p
}

func linearBackoff(attempt int) time.Duration {
	return time.Second * time.Duration(attempt)
}

func (p *Publisher) publish(event events.PaymentEvent) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}

	routingKey := event.RoutingKey(RoutingPrefix)

	err = p.client.Channel().Publish(
		p.client.Exchange(),
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.Timestamp,
			Headers: amqp.Table{
				"payment_no":     event.PaymentNo,
				"order_id":       event.OrderID.String(),
				"correlation_id": event.CorrelationID.String(),
				"service":        event.Service,
				"event_type":     string(event.EventType),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("event publish error: %w", err)
	}

	p.log.Infof("Event published: %s", routingKey)
	return nil
}

// Publish sends the event, retrying with a linear backoff until ctx is done.
func (p *Publisher) Publish(ctx context.Context, event events.PaymentEvent) error {
	var lastErr error

	for i := 0; i < p.maxRetries; i++ {
		if lastErr = p.send(event); lastErr == nil {
			return nil
		}
		p.log.Warnf("Publish error (retry %d/%d): %v", i+1, p.maxRetries, lastErr)

		if i < p.maxRetries-1 {
			select {
			case <-time.After(p.backoff(i + 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("event publish failed after %d attempts: %w", p.maxRetries, lastErr)
}

// LogPublisher records events in the log only. Used when RabbitMQ is disabled.
type LogPublisher struct {
	log *log.Helper
}

func NewLogPublisher(logger log.Logger) *LogPublisher {
	return &LogPublisher{log: log.NewHelper(log.With(logger, "component", "publisher"))}
}

func (p *LogPublisher) Publish(_ context.Context, event events.PaymentEvent) error {
	p.log.Infof("Event (not published): %s payment=%s", event.RoutingKey(RoutingPrefix), event.PaymentNo)
	return nil
}

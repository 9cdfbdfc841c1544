package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/events"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cast"
	"github.com/streadway/amqp"
)

type EventHandler func(ctx context.Context, event events.PaymentEvent) error

const maxRedeliveries = 3

type Consumer struct {
	client       *RabbitMQClient
	queueName    string
	consumerName string
	log          *log.Helper
}

func NewConsumer(client *RabbitMQClient, queueName, consumerName string, logger log.Logger) *Consumer {
	return &Consumer{
		client:       client,
		queueName:    queueName,
		consumerName: consumerName,
		log:          log.NewHelper(log.With(logger, "component", "consumer")),
	}
}

// CallbackRoutingKey is the key gateway notifications are published under.
func CallbackRoutingKey() string {
	return fmt.Sprintf("%s.%s.%s", RoutingPrefix, events.GatewayServiceName, events.PaymentCallbackEvent)
}

func (c *Consumer) ConsumeEvents(routingKeys []string, handler EventHandler) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	channel := c.client.Channel()

	queue, err := channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("queue declare error: %w", err)
	}

	for _, routingKey := range routingKeys {
		err = channel.QueueBind(queue.Name, routingKey, c.client.Exchange(), false, nil)
		if err != nil {
			return fmt.Errorf("queue bind error (%s): %w", routingKey, err)
		}
		c.log.Infof("Queue %s bound to routing key: %s", queue.Name, routingKey)
	}

	messages, err := channel.Consume(
		queue.Name,     // queue
		c.consumerName, // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("consume start error: %w", err)
	}

	c.log.Infof("Consuming events on queue: %s", queue.Name)

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.log.Warnf("Delivery channel closed: %s", c.consumerName)
					return
				}
				c.handleMessage(msg, handler)
			case <-c.client.Done():
				c.log.Infof("Consumer is stopped: %s", c.consumerName)
				return
			}
		}
	}()

	return nil
}

func (c *Consumer) handleMessage(msg amqp.Delivery, handler EventHandler) {
	var event events.PaymentEvent

	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Errorf("Event deserialize error: %v", err)
		msg.Nack(false, false)
		return
	}

	c.log.Infof("Event received: %s from %s", event.EventType, event.Service)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := handler(ctx, event); err != nil {
		c.log.Errorf("Event process error: %v", err)

		if shouldRedeliver(msg) {
			c.republish(msg, event)
		} else {
			c.log.Warnf("Max retry is reached, dead-lettering: %s", event.EventType)
			msg.Nack(false, false)
		}
		return
	}

	msg.Ack(false)
}

func shouldRedeliver(msg amqp.Delivery) bool {
	return redeliveryCount(msg) < maxRedeliveries
}

// redeliveryCount reads our own x-retry-count header, falling back to the broker's
// x-death count. Integer headers may decode as any width.
func redeliveryCount(msg amqp.Delivery) int64 {
	if v, ok := msg.Headers["x-retry-count"]; ok {
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	}
	if xDeath, ok := msg.Headers["x-death"]; ok {
		if deaths, ok := xDeath.([]interface{}); ok && len(deaths) > 0 {
			if death, ok := deaths[0].(amqp.Table); ok {
				if n, err := cast.ToInt64E(death["count"]); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

func (c *Consumer) republish(msg amqp.Delivery, event events.PaymentEvent) {
	time.Sleep(2 * time.Second)

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = redeliveryCount(msg) + 1

	err := c.client.Channel().Publish(
		msg.Exchange,
		msg.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: msg.DeliveryMode,
			Headers:      headers,
		},
	)
	if err != nil {
		c.log.Errorf("Retry publish error: %v", err)
		msg.Nack(false, false)
		return
	}

	msg.Ack(false)
	c.log.Infof("Re-published: %s", event.EventType)
}

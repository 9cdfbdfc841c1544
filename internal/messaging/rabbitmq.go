package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cemetery-system/payment-service/internal/config"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/streadway/amqp"
)

type RabbitMQClient struct {
	config     config.RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	isClosing  bool
	ctx        context.Context
	cancel     context.CancelFunc
	log        *log.Helper
}

func NewRabbitMQClient(cfg config.RabbitMQConfig, logger log.Logger) *RabbitMQClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &RabbitMQClient{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    log.NewHelper(log.With(logger, "component", "rabbitmq")),
	}
}

func (r *RabbitMQClient) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for i := 0; i < r.config.RetryCount; i++ {
		r.connection, err = amqp.DialConfig(r.config.ConnectionURL(), amqp.Config{
			Dial: amqp.DefaultDial(r.config.ConnectionTimeout),
		})
		if err != nil {
			r.log.Warnf("RabbitMQ connection error (attempt %d/%d): %v", i+1, r.config.RetryCount, err)
			if i < r.config.RetryCount-1 {
				time.Sleep(r.config.RetryDelay)
				continue
			}
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}

		r.channel, err = r.connection.Channel()
		if err != nil {
			r.connection.Close()
			return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
		}

		err = r.channel.ExchangeDeclare(
			r.config.Exchange, // name
			"topic",           // type
			true,              // durable
			false,             // auto-deleted
			false,             // internal
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			r.channel.Close()
			r.connection.Close()
			return fmt.Errorf("failed to create exchange: %w", err)
		}

		r.log.Infof("Successfully connected to RabbitMQ: %s", r.config.Host)

		go r.handleReconnection(r.connection)

		return nil
	}

	return err
}

func (r *RabbitMQClient) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-notifyClose:
		r.mu.RLock()
		closing := r.isClosing
		r.mu.RUnlock()
		if closing {
			return
		}
		r.log.Warnf("RabbitMQ connection is lost: %v. Trying reconnect...", err)
		time.Sleep(2 * time.Second)
		if reconnectErr := r.Connect(); reconnectErr != nil {
			r.log.Errorf("Reconnect error: %v", reconnectErr)
		}
	case <-r.ctx.Done():
	}
}

func (r *RabbitMQClient) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

func (r *RabbitMQClient) Exchange() string {
	return r.config.Exchange
}

// Done is closed once the client is shut down.
func (r *RabbitMQClient) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosing {
		return nil
	}

	r.isClosing = true
	r.cancel()

	var closeErr error

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			closeErr = fmt.Errorf("channel close error: %w", err)
			r.log.Errorf("Failed to close channel: %v", err)
		}
	}

	if r.connection != nil {
		if err := r.connection.Close(); err != nil {
			if closeErr != nil {
				closeErr = fmt.Errorf("%v; connection close error: %w", closeErr, err)
			} else {
				closeErr = fmt.Errorf("connection close error: %w", err)
			}
			r.log.Errorf("Failed to close connection: %v", err)
		}
	}

	if closeErr == nil {
		r.log.Info("RabbitMQ connection closed successfully")
	}

	return closeErr
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cemetery-system/payment-service/internal/config"
	"github.com/cemetery-system/payment-service/internal/gateway"
	"github.com/cemetery-system/payment-service/internal/handlers"
	"github.com/cemetery-system/payment-service/internal/messaging"
	"github.com/cemetery-system/payment-service/internal/repository"
	"github.com/cemetery-system/payment-service/internal/service"
	"github.com/go-kratos/kratos/v2/log"
)

type application struct {
	cfg     *config.Config
	logger  log.Logger
	log     *log.Helper
	orders  service.OrderStore
	rabbit  *messaging.RabbitMQClient
	service *service.PaymentService
	handler *handlers.PaymentHandler

	cleanups []func()
}

func newLogger(cfg *config.Config) log.Logger {
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", cfg.ServiceName,
		"service.version", Version,
	)
	return log.NewFilter(logger, log.FilterLevel(log.ParseLevel(cfg.LogLevel)))
}

// newApplication wires storage, locking, messaging and the payment service from cfg.
func newApplication(ctx context.Context, cfg *config.Config, logger log.Logger) (*application, error) {
	app := &application{
		cfg:    cfg,
		logger: logger,
		log:    log.NewHelper(logger),
	}

	var payments service.PaymentStore
	switch cfg.Store {
	case config.StoreMemory:
		app.log.Warn("Using in-memory storage, data is lost on restart")
		payments = repository.NewMemoryPaymentRepository()
		app.orders = repository.NewMemoryOrderRepository()
	default:
		db, err := repository.NewDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.cleanups = append(app.cleanups, func() { db.Close() })
		app.log.Infof("Database connection success: %s", cfg.Database.Name)

		payments = repository.NewPaymentRepository(db)
		app.orders = repository.NewOrderRepository(db)
	}

	var locker service.Locker = service.NewLocalLocker()
	if cfg.Redis.Enabled() {
		rdb, err := repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.cleanups = append(app.cleanups, func() { rdb.Close() })
		locker = service.NewRedisLocker(rdb, cfg.Redis.LockExpiry, cfg.Redis.LockTries, logger)
		app.log.Infof("Distributed payment lock enabled: %s", cfg.Redis.Addr)
	}

	var publisher service.EventPublisher = messaging.NewLogPublisher(logger)
	if cfg.RabbitMQ.Enabled {
		app.rabbit = messaging.NewRabbitMQClient(cfg.RabbitMQ, logger)
		if err := app.rabbit.Connect(); err != nil {
			app.Close()
			return nil, err
		}
		app.cleanups = append(app.cleanups, func() { app.rabbit.Close() })
		publisher = messaging.NewPublisher(app.rabbit, cfg.RabbitMQ.RetryCount, logger)
	}

	paymentGateway := gateway.NewMockPaymentGateway(
		cfg.Gateway.SuccessRate,
		logger,
		gateway.WithDelay(cfg.Gateway.MinDelay, cfg.Gateway.MaxDelay),
	)

	app.service = service.NewPaymentService(
		payments,
		app.orders,
		service.NewRepositoryOrderSynchronizer(app.orders, logger),
		paymentGateway,
		publisher,
		logger,
		service.WithLocker(locker),
		service.WithTimeoutThreshold(cfg.Timeout.Threshold),
		service.WithSettlementPool(cfg.Settlement.Workers, cfg.Settlement.QueueSize),
	)
	app.handler = handlers.NewPaymentHandler(app.service, logger)

	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config load error: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

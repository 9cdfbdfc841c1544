package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/cemetery-system/payment-service/internal/messaging"
	"github.com/cemetery-system/payment-service/internal/repository"
	"github.com/cemetery-system/payment-service/internal/scheduler"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const settlementDrainTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var (
		port      string
		demoOrder bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment HTTP API, settlement workers and timeout sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return runServe(cmd.Context(), cfg.Port, demoOrder, func(ctx context.Context) (*application, error) {
				return newApplication(ctx, cfg, logger)
			})
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (overrides PORT)")
	cmd.Flags().BoolVar(&demoOrder, "demo-order", false, "seed an order awaiting payment (memory store only)")

	return cmd
}

func runServe(parent context.Context, port string, demoOrder bool, build func(ctx context.Context) (*application, error)) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	app.log.Info("Payment Service starting...")

	if demoOrder {
		seedDemoOrder(app)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	app.service.Start(workerCtx)
	// Runs before app.Close so callbacks still in flight reach an open store.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), settlementDrainTimeout)
		defer cancel()
		app.service.Stop(drainCtx)
	}()

	sweeper, err := scheduler.NewTimeoutSweeper(app.service, app.cfg.Timeout.SweepCron, app.cfg.Timeout.SweepBudget, app.logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	if app.rabbit != nil {
		consumer := messaging.NewConsumer(app.rabbit, app.cfg.RabbitMQ.Queue, app.cfg.ServiceName, app.logger)
		if err := app.handler.StartConsuming(consumer); err != nil {
			app.log.Errorf("RabbitMQ consumption error: %v", err)
		}
	}

	server := newFiberApp(app.logger)
	app.handler.RegisterRoutes(server.Group("/api/v1"))
	server.Use("*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Route not found",
		})
	})

	listenErr := make(chan error, 1)
	go func() {
		app.log.Infof("Payment Service listening on :%s (gateway success rate %.0f%%, timeout %s)",
			port, app.cfg.Gateway.SuccessRate*100, app.cfg.Timeout.Threshold)
		listenErr <- server.Listen(":" + port)
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	app.log.Info("Payment Service closing...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		app.log.Errorf("Shutdown error: %v", err)
	}
	return nil
}

func newFiberApp(l log.Logger) *fiber.App {
	helper := log.NewHelper(l)

	app := fiber.New(fiber.Config{
		AppName: "Payment Service v1.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}

			helper.Errorf("Error: %v", err)

			return c.Status(code).JSON(fiber.Map{
				"success":   false,
				"message":   message,
				"error":     err.Error(),
				"timestamp": time.Now(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency} | IP: ${ip}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	return app
}

func seedDemoOrder(app *application) {
	orders, ok := app.orders.(*repository.MemoryOrderRepository)
	if !ok {
		app.log.Warn("--demo-order is only supported with STORE=memory")
		return
	}

	order := &domain.Order{
		ID:          uuid.New(),
		OrderNo:     "O-DEMO-" + time.Now().Format("20060102150405"),
		TotalAmount: decimal.RequireFromString("100.00"),
		Status:      domain.OrderStatusPendingPayment,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	orders.Add(order)
	app.log.Infof("Demo order %s awaiting payment: id=%s", order.OrderNo, order.ID)
}

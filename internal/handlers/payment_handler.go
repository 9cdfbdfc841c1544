package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/cemetery-system/payment-service/internal/events"
	apiHTTP "github.com/cemetery-system/payment-service/internal/http"
	"github.com/cemetery-system/payment-service/internal/messaging"
	"github.com/cemetery-system/payment-service/internal/service"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	log            *log.Helper
}

func NewPaymentHandler(paymentService *service.PaymentService, logger log.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		log:            log.NewHelper(log.With(logger, "handler", "payment")),
	}
}

// RegisterRoutes mounts the payment API on router, normally the /api/v1 group.
func (h *PaymentHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	payments := router.Group("/payments")
	payments.Get("/", h.ListPayments)
	payments.Post("/", h.CreatePayment)
	payments.Post("/callback", h.HandleCallback)
	payments.Post("/timeout-check", h.TimeoutCheck)
	payments.Get("/pending", h.ListPending)
	payments.Get("/:payment_no", h.GetPayment)
	payments.Post("/:payment_no/settle", h.Settle)
	payments.Post("/:payment_no/refund", h.Refund)

	router.Get("/orders/no/:order_no/payments", h.ListByOrderNo)
	router.Get("/orders/:order_id/payments", h.ListByOrderID)
	router.Get("/users/:user_id/payments", h.ListByUserID)
}

func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	var req CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apiHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return apiHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": req.OrderID,
		})
	}

	payment, err := h.paymentService.CreatePayment(c.UserContext(), domain.CreatePaymentRequest{
		OrderID:        orderID,
		Amount:         req.Amount,
		PaymentMethod:  domain.PaymentMethod(strings.ToLower(req.PaymentMethod)),
		PaymentChannel: req.PaymentChannel,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}

	return apiHTTP.CreatedResponse(c, "Payment created successfully", toPaymentResponse(payment))
}

func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	payment, err := h.paymentService.GetPayment(c.UserContext(), c.Params("payment_no"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payment retrieved successfully", toPaymentResponse(payment))
}

func (h *PaymentHandler) Settle(c *fiber.Ctx) error {
	paymentNo := c.Params("payment_no")
	if err := h.paymentService.SettleAsync(c.UserContext(), paymentNo); err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.AcceptedResponse(c, "Payment settlement started", map[string]interface{}{
		"payment_no": paymentNo,
		"status":     domain.PaymentStatusProcessing,
	})
}

func (h *PaymentHandler) HandleCallback(c *fiber.Ctx) error {
	var req CallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return apiHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if req.PaymentNo == "" {
		return apiHTTP.BadRequestResponse(c, "payment_no is required", nil)
	}

	err := h.paymentService.HandleCallback(c.UserContext(), domain.CallbackRequest{
		PaymentNo:     req.PaymentNo,
		Success:       req.Success,
		TransactionID: req.TransactionID,
		FailReason:    req.FailReason,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}

	payment, err := h.paymentService.GetPayment(c.UserContext(), req.PaymentNo)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Callback processed", toPaymentResponse(payment))
}

func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	var req RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apiHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	payment, err := h.paymentService.RequestRefund(c.UserContext(), c.Params("payment_no"), req.Reason)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payment refunded successfully", toPaymentResponse(payment))
}

func (h *PaymentHandler) TimeoutCheck(c *fiber.Ctx) error {
	expired, err := h.paymentService.SweepTimeouts(c.UserContext())
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Timeout check completed", TimeoutCheckResponse{
		Expired:   expired,
		Threshold: h.paymentService.TimeoutThreshold().String(),
	})
}

// ListPayments serves GET /payments?page=&page_size=, newest first.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	page, err := h.paymentService.ListPayments(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("page_size", domain.DefaultPageSize))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payments retrieved successfully", toPaymentPageResponse(page))
}

func (h *PaymentHandler) ListPending(c *fiber.Ctx) error {
	payments, err := h.paymentService.ListPending(c.UserContext())
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Pending payments retrieved successfully", toPaymentResponses(payments))
}

func (h *PaymentHandler) ListByOrderID(c *fiber.Ctx) error {
	orderIDStr := c.Params("order_id")
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return apiHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": orderIDStr,
		})
	}

	payments, err := h.paymentService.ListByOrderID(c.UserContext(), orderID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payments retrieved successfully", toPaymentResponses(payments))
}

func (h *PaymentHandler) ListByOrderNo(c *fiber.Ctx) error {
	payments, err := h.paymentService.ListByOrderNo(c.UserContext(), c.Params("order_no"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payments retrieved successfully", toPaymentResponses(payments))
}

func (h *PaymentHandler) ListByUserID(c *fiber.Ctx) error {
	userIDStr := c.Params("user_id")
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return apiHTTP.BadRequestResponse(c, "Invalid user ID", map[string]interface{}{
			"user_id": userIDStr,
		})
	}

	payments, err := h.paymentService.ListByUserID(c.UserContext(), userID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return apiHTTP.SuccessResponse(c, "Payments retrieved successfully", toPaymentResponses(payments))
}

func (h *PaymentHandler) HealthCheck(c *fiber.Ctx) error {
	return apiHTTP.SuccessResponse(c, "Payment service is healthy", map[string]interface{}{
		"service": events.ServiceName,
		"status":  "healthy",
	})
}

func (h *PaymentHandler) errorResponse(c *fiber.Ctx, err error) error {
	var illegal *domain.IllegalTransitionError

	switch {
	case errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return apiHTTP.NotFoundResponse(c, err.Error())
	case errors.As(err, &illegal):
		return apiHTTP.ConflictResponse(c, "Illegal payment state transition", map[string]interface{}{
			"operation": illegal.Op,
			"from":      illegal.From,
			"to":        illegal.To,
			"allowed":   illegal.From.AllowedTransitions(),
		})
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return apiHTTP.ConflictResponse(c, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidOrderState),
		errors.Is(err, domain.ErrMissingTransactionID):
		return apiHTTP.BadRequestResponse(c, err.Error(), nil)
	case errors.Is(err, service.ErrSettlementStopped):
		return apiHTTP.ServiceUnavailableResponse(c, "Payment settlement is shutting down")
	default:
		h.log.Errorf("Request %s %s failed: %v", c.Method(), c.Path(), err)
		return apiHTTP.InternalServerErrorResponse(c, "Internal server error", nil)
	}
}

// HandlePaymentEvent consumes gateway notifications from the message bus.
// Callbacks that can never succeed are acknowledged instead of redelivered.
func (h *PaymentHandler) HandlePaymentEvent(ctx context.Context, event events.PaymentEvent) error {
	switch event.EventType {
	case events.PaymentCallbackEvent:
		var callback domain.CallbackRequest
		if err := events.DecodePayload(event, &callback); err != nil {
			h.log.Errorf("Invalid payment.callback payload %s: %v", event.ID, err)
			return nil
		}
		if callback.PaymentNo == "" {
			callback.PaymentNo = event.PaymentNo
		}

		err := h.paymentService.HandleCallback(ctx, callback)
		if errors.Is(err, domain.ErrPaymentNotFound) ||
			errors.Is(err, domain.ErrIllegalTransition) ||
			errors.Is(err, domain.ErrMissingTransactionID) {
			h.log.Warnf("Dropping payment.callback for %s: %v", callback.PaymentNo, err)
			return nil
		}
		return err

	default:
		h.log.Infof("Unhandled event type: %s", event.EventType)
		return nil
	}
}

func (h *PaymentHandler) StartConsuming(consumer *messaging.Consumer) error {
	return consumer.ConsumeEvents([]string{messaging.CallbackRoutingKey()}, h.HandlePaymentEvent)
}

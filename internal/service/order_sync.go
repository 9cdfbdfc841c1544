package service

import (
	"context"
	"fmt"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

type OrderStore interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error
}

// OrderStatusSynchronizer moves the paid-for order along once its payment settles.
// Implementations must tolerate being called more than once for the same order.
type OrderStatusSynchronizer interface {
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error
}

type RepositoryOrderSynchronizer struct {
	orders OrderStore
	log    *log.Helper
}

func NewRepositoryOrderSynchronizer(orders OrderStore, logger log.Logger) *RepositoryOrderSynchronizer {
	return &RepositoryOrderSynchronizer{
		orders: orders,
		log:    log.NewHelper(log.With(logger, "component", "order-sync")),
	}
}

func (s *RepositoryOrderSynchronizer) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(ctx, orderID, domain.OrderStatusPaid)
}

func (s *RepositoryOrderSynchronizer) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(ctx, orderID, domain.OrderStatusRefunded)
}

func (s *RepositoryOrderSynchronizer) setStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	if err := s.orders.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("order %s status sync to %s: %w", orderID, status, err)
	}
	s.log.Infof("Order %s marked %s", orderID, status)
	return nil
}

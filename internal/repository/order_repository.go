package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	query := `
		SELECT id, order_no, user_id, total_amount, status, created_at, updated_at
		FROM service_order
		WHERE id = $1
	`

	order := &domain.Order{}
	var userID uuid.NullUUID

	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID,
		&order.OrderNo,
		&userID,
		&order.TotalAmount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("order receive error: %w", err)
	}

	if userID.Valid {
		order.UserID = &userID.UUID
	}
	return order, nil
}

// UpdateOrderStatus is idempotent: writing the status an order already has is a no-op.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	query := `
		UPDATE service_order
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status <> $2
	`

	result, err := r.db.ExecContext(ctx, query, orderID, status, time.Now())
	if err != nil {
		return fmt.Errorf("order update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// either missing or already in the requested status
		if _, err := r.GetOrder(ctx, orderID); err != nil {
			return err
		}
	}

	return nil
}

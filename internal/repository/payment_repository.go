package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const paymentColumns = `
	id, payment_no, order_id, order_no, user_id, payment_amount, payment_method,
	payment_channel, transaction_id, payment_status, payment_time, refund_amount,
	refund_reason, refund_time, notify_time, notify_data, version, create_time, update_time`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	query := `
		INSERT INTO payment_record (` + paymentColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.PaymentNo,
		payment.OrderID,
		payment.OrderNo,
		nullUUID(payment.UserID),
		payment.PaymentAmount,
		payment.PaymentMethod,
		nullString(payment.PaymentChannel),
		nullString(payment.TransactionID),
		payment.PaymentStatus,
		payment.PaymentTime,
		payment.RefundAmount,
		nullString(payment.RefundReason),
		payment.RefundTime,
		payment.NotifyTime,
		nullString(payment.NotifyData),
		payment.Version,
		payment.CreateTime,
		payment.UpdateTime,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("payment create error: %w: %s", domain.ErrDuplicatePaymentNo, payment.PaymentNo)
		}
		return fmt.Errorf("payment create error: %w", err)
	}

	return nil
}

// Update persists a transition only if the stored row is still in expected
// status at the version the caller loaded; on success payment.Version is bumped.
func (r *PaymentRepository) Update(ctx context.Context, payment *domain.PaymentRecord, expected domain.PaymentStatus) error {
	query := `
		UPDATE payment_record
		SET payment_status = $2, transaction_id = $3, payment_time = $4,
			refund_amount = $5, refund_reason = $6, refund_time = $7,
			notify_time = $8, notify_data = $9, update_time = $10,
			version = version + 1
		WHERE payment_no = $1 AND payment_status = $11 AND version = $12
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.PaymentNo,
		payment.PaymentStatus,
		nullString(payment.TransactionID),
		payment.PaymentTime,
		payment.RefundAmount,
		nullString(payment.RefundReason),
		payment.RefundTime,
		payment.NotifyTime,
		nullString(payment.NotifyData),
		payment.UpdateTime,
		expected,
		payment.Version,
	)
	if err != nil {
		return fmt.Errorf("payment update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if _, err := r.GetByPaymentNo(ctx, payment.PaymentNo); err != nil {
			return err
		}
		return fmt.Errorf("payment update error: %w: %s", domain.ErrConcurrentUpdate, payment.PaymentNo)
	}

	payment.Version++
	return nil
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_record WHERE payment_no = $1`

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, paymentNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentNo)
		}
		return nil, fmt.Errorf("payment receive error: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) ListNonTerminal(ctx context.Context) ([]*domain.PaymentRecord, error) {
	return r.list(ctx, `WHERE payment_status IN ($1, $2) ORDER BY create_time ASC`,
		domain.PaymentStatusPending, domain.PaymentStatusProcessing)
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error) {
	return r.list(ctx, `WHERE payment_status = $1 ORDER BY create_time DESC`, status)
}

func (r *PaymentRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return r.list(ctx, `WHERE order_id = $1 ORDER BY create_time DESC`, orderID)
}

func (r *PaymentRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]*domain.PaymentRecord, error) {
	return r.list(ctx, `WHERE order_no = $1 ORDER BY create_time DESC`, orderNo)
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return r.list(ctx, `WHERE user_id = $1 ORDER BY create_time DESC`, userID)
}

// ListPage returns one page of payments, newest first, with the total row count.
func (r *PaymentRepository) ListPage(ctx context.Context, offset, limit int) ([]*domain.PaymentRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_record`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("payments count error: %w", err)
	}
	if total == 0 || offset >= total {
		return nil, total, nil
	}

	payments, err := r.list(ctx, `ORDER BY create_time DESC, payment_no DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *PaymentRepository) list(ctx context.Context, where string, args ...interface{}) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payment_record `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("payments receive error: %w", err)
	}
	defer rows.Close()

	var payments []*domain.PaymentRecord
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payment scan error: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments iterate error: %w", err)
	}

	return payments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	payment := &domain.PaymentRecord{}
	var userID uuid.NullUUID
	var channel, transactionID, refundReason, notifyData sql.NullString
	var paymentTime, refundTime, notifyTime sql.NullTime
	var status string

	err := row.Scan(
		&payment.ID,
		&payment.PaymentNo,
		&payment.OrderID,
		&payment.OrderNo,
		&userID,
		&payment.PaymentAmount,
		&payment.PaymentMethod,
		&channel,
		&transactionID,
		&status,
		&paymentTime,
		&payment.RefundAmount,
		&refundReason,
		&refundTime,
		&notifyTime,
		&notifyData,
		&payment.Version,
		&payment.CreateTime,
		&payment.UpdateTime,
	)
	if err != nil {
		return nil, err
	}

	if payment.PaymentStatus, err = domain.ParsePaymentStatus(status); err != nil {
		return nil, fmt.Errorf("payment %s: %w", payment.PaymentNo, err)
	}
	if userID.Valid {
		payment.UserID = &userID.UUID
	}
	payment.PaymentChannel = channel.String
	payment.TransactionID = transactionID.String
	payment.RefundReason = refundReason.String
	payment.NotifyData = notifyData.String
	payment.PaymentTime = timePtr(paymentTime)
	payment.RefundTime = timePtr(refundTime)
	payment.NotifyTime = timePtr(notifyTime)

	return payment, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

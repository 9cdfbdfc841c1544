package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
)

// MemoryPaymentRepository keeps payment records in process memory. It honours
// the same uniqueness and compare-and-swap rules as the Postgres repository.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.PaymentRecord
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[string]*domain.PaymentRecord)}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, payment *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.PaymentNo]; exists {
		return fmt.Errorf("payment create error: %w: %s", domain.ErrDuplicatePaymentNo, payment.PaymentNo)
	}
	r.payments[payment.PaymentNo] = payment.Clone()
	return nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, payment *domain.PaymentRecord, expected domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[payment.PaymentNo]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, payment.PaymentNo)
	}
	if stored.PaymentStatus != expected || stored.Version != payment.Version {
		return fmt.Errorf("payment update error: %w: %s", domain.ErrConcurrentUpdate, payment.PaymentNo)
	}

	payment.Version++
	r.payments[payment.PaymentNo] = payment.Clone()
	return nil
}

func (r *MemoryPaymentRepository) GetByPaymentNo(_ context.Context, paymentNo string) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.payments[paymentNo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentNo)
	}
	return stored.Clone(), nil
}

func (r *MemoryPaymentRepository) ListNonTerminal(_ context.Context) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.PaymentStatus.InFlight() }, true), nil
}

func (r *MemoryPaymentRepository) ListByStatus(_ context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.PaymentStatus == status }, false), nil
}

func (r *MemoryPaymentRepository) ListByOrderID(_ context.Context, orderID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.OrderID == orderID }, false), nil
}

func (r *MemoryPaymentRepository) ListByOrderNo(_ context.Context, orderNo string) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.OrderNo == orderNo }, false), nil
}

func (r *MemoryPaymentRepository) ListByUserID(_ context.Context, userID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.UserID != nil && *p.UserID == userID }, false), nil
}

func (r *MemoryPaymentRepository) ListPage(_ context.Context, offset, limit int) ([]*domain.PaymentRecord, int, error) {
	all := r.filter(func(*domain.PaymentRecord) bool { return true }, false)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryPaymentRepository) filter(match func(*domain.PaymentRecord) bool, oldestFirst bool) []*domain.PaymentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.PaymentRecord
	for _, p := range r.payments {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime.Equal(out[j].CreateTime) {
			if oldestFirst {
				return out[i].PaymentNo < out[j].PaymentNo
			}
			return out[i].PaymentNo > out[j].PaymentNo
		}
		if oldestFirst {
			return out[i].CreateTime.Before(out[j].CreateTime)
		}
		return out[i].CreateTime.After(out[j].CreateTime)
	})
	return out
}

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[uuid.UUID]*domain.Order)}
}

// Add stores or replaces an order.
func (r *MemoryOrderRepository) Add(order *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *order
	r.orders[order.ID] = &cp
}

func (r *MemoryOrderRepository) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	cp := *order
	return &cp, nil
}

func (r *MemoryOrderRepository) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if order.Status != status {
		order.Status = status
		order.UpdatedAt = time.Now()
	}
	return nil
}

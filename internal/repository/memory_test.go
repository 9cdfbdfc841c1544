package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func seedPayment(t *testing.T, repo *MemoryPaymentRepository, no string, status domain.PaymentStatus, created time.Time) *domain.PaymentRecord {
	t.Helper()
	p := &domain.PaymentRecord{
		ID:            uuid.New(),
		PaymentNo:     no,
		OrderID:       uuid.New(),
		OrderNo:       "O-" + no,
		PaymentAmount: decimal.NewFromInt(10),
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: status,
		CreateTime:    created,
		UpdateTime:    created,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create(%s): %v", no, err)
	}
	return p
}

func TestMemoryPaymentRepository_DuplicatePaymentNo(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	p := seedPayment(t, repo, "PAY1", domain.PaymentStatusPending, time.Now())

	err := repo.Create(context.Background(), p)
	if !errors.Is(err, domain.ErrDuplicatePaymentNo) {
		t.Fatalf("expected ErrDuplicatePaymentNo, got %v", err)
	}
}

func TestMemoryPaymentRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()
	seedPayment(t, repo, "PAY1", domain.PaymentStatusPending, time.Now())

	first, _ := repo.GetByPaymentNo(ctx, "PAY1")
	second, _ := repo.GetByPaymentNo(ctx, "PAY1")

	first.PaymentStatus = domain.PaymentStatusProcessing
	if err := repo.Update(ctx, first, domain.PaymentStatusPending); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("expected version 1, got %d", first.Version)
	}

	second.PaymentStatus = domain.PaymentStatusFailed
	err := repo.Update(ctx, second, domain.PaymentStatusPending)
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	stored, _ := repo.GetByPaymentNo(ctx, "PAY1")
	if stored.PaymentStatus != domain.PaymentStatusProcessing {
		t.Errorf("losing writer overwrote the row: %s", stored.PaymentStatus)
	}
}

func TestMemoryPaymentRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()
	seedPayment(t, repo, "PAY1", domain.PaymentStatusPending, time.Now())

	got, _ := repo.GetByPaymentNo(ctx, "PAY1")
	got.PaymentStatus = domain.PaymentStatusSuccess

	again, _ := repo.GetByPaymentNo(ctx, "PAY1")
	if again.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("mutation leaked into the store: %s", again.PaymentStatus)
	}
}

func TestMemoryPaymentRepository_Listing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()
	base := time.Now()
	seedPayment(t, repo, "PAY3", domain.PaymentStatusProcessing, base.Add(2*time.Minute))
	seedPayment(t, repo, "PAY1", domain.PaymentStatusPending, base)
	seedPayment(t, repo, "PAY2", domain.PaymentStatusSuccess, base.Add(time.Minute))
	seedPayment(t, repo, "PAY4", domain.PaymentStatusFailed, base.Add(3*time.Minute))

	inFlight, err := repo.ListNonTerminal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(inFlight) != 2 || inFlight[0].PaymentNo != "PAY1" || inFlight[1].PaymentNo != "PAY3" {
		t.Fatalf("expected [PAY1 PAY3] oldest first, got %v", paymentNos(inFlight))
	}

	pending, _ := repo.ListByStatus(ctx, domain.PaymentStatusPending)
	if len(pending) != 1 || pending[0].PaymentNo != "PAY1" {
		t.Errorf("expected [PAY1], got %v", paymentNos(pending))
	}

	byOrderNo, _ := repo.ListByOrderNo(ctx, "O-PAY2")
	if len(byOrderNo) != 1 {
		t.Errorf("expected 1 payment for O-PAY2, got %d", len(byOrderNo))
	}
}

func TestMemoryOrderRepository_UpdateStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	order := &domain.Order{ID: uuid.New(), OrderNo: "O-1", Status: domain.OrderStatusPendingPayment}
	repo.Add(order)

	for i := 0; i < 2; i++ {
		if err := repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPaid); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	got, _ := repo.GetOrder(ctx, order.ID)
	if got.Status != domain.OrderStatusPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}

	if err := repo.UpdateOrderStatus(ctx, uuid.New(), domain.OrderStatusPaid); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func paymentNos(ps []*domain.PaymentRecord) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.PaymentNo
	}
	return out
}

func TestMemoryPaymentRepository_ListPage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()
	base := time.Now()
	for i, no := range []string{"PAY1", "PAY2", "PAY3", "PAY4", "PAY5"} {
		seedPayment(t, repo, no, domain.PaymentStatusPending, base.Add(time.Duration(i)*time.Minute))
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []string
	}{
		{"first page newest first", 0, 2, []string{"PAY5", "PAY4"}},
		{"middle page", 2, 2, []string{"PAY3", "PAY2"}},
		{"short last page", 4, 2, []string{"PAY1"}},
		{"past the end", 6, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := repo.ListPage(ctx, tt.offset, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if total != 5 {
				t.Errorf("expected total 5, got %d", total)
			}
			got := paymentNos(items)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
)

type stubProductRepo struct {
	findFn     func(context.Context, string) (domain.Product, error)
	lowStockFn func(context.Context, int) ([]domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) ListLowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, limit)
	}
	return nil, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func testCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"prod-a": {ID: "prod-a", Name: "Arabica Beans 500g", Active: true, UnitPrice: 500, Stock: 10, MinStock: 2},
		"prod-b": {ID: "prod-b", Name: "Pour Over Kettle", Active: true, UnitPrice: 1000, Stock: 3, MinStock: 1},
		"prod-c": {ID: "prod-c", Name: "Discontinued Mug", Active: false, UnitPrice: 250, Stock: 8, MinStock: 1},
	}
}

func catalogRepo(catalog map[string]domain.Product) *stubProductRepo {
	return &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			product, ok := catalog[productID]
			if !ok {
				return domain.Product{}, notFoundRepoError{}
			}
			return product, nil
		},
	}
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "document not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

func newTestCheckoutService(t *testing.T, orders *stubOrderRepo, payments *stubPaymentRepo, products *stubProductRepo, counters *stubCounterRepo, now time.Time, events *captureOrderEvents) CheckoutService {
	t.Helper()
	deps := CheckoutServiceDeps{
		Orders:     orders,
		Payments:   payments,
		Products:   products,
		Counters:   counters,
		UnitOfWork: &stubUnitOfWork{},
		Settings: CheckoutSettings{
			PaymentWindow:     24 * time.Hour,
			OrderNumberPrefix: "FG",
			BankName:          "Bank Central",
			AccountNumber:     "123-456-7890",
		},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
	}
	if events != nil {
		deps.Events = events
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCreateOrderHappyPath(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	var insertedOrder domain.Order
	var insertedPayment domain.PaymentTransaction
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			insertedOrder = order
			return nil
		},
	}
	payments := &stubPaymentRepo{
		insertFn: func(_ context.Context, payment domain.PaymentTransaction) error {
			insertedPayment = payment
			return nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" || step != 1 {
				t.Fatalf("unexpected counter call %s/%d", counterID, step)
			}
			return 42, nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestCheckoutService(t, orders, payments, catalogRepo(testCatalog()), counters, now, events)

	result, err := svc.CreateOrder(ctx, CreateOrderCommand{
		CustomerID: "user-1",
		Lines: []CartLine{
			{ProductID: "prod-a", Quantity: 3},
			{ProductID: "prod-b", Quantity: 2},
		},
		Notes: "leave at reception",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order := result.Order
	if order.OrderNumber != "FG-2026-000042" {
		t.Fatalf("expected order number FG-2026-000042 got %s", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefix got %s", order.ID)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT got %s", order.Status)
	}
	if order.TotalAmount != 3500 {
		t.Fatalf("expected total 3500 got %d", order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if !strings.HasPrefix(item.ID, "itm_") {
			t.Fatalf("expected itm_ prefix got %s", item.ID)
		}
		if item.OrderID != order.ID {
			t.Fatalf("item %s not bound to order", item.ID)
		}
	}
	if order.Items[0].UnitPrice != 500 || order.Items[1].UnitPrice != 1000 {
		t.Fatalf("expected frozen catalog prices, got %+v", order.Items)
	}
	wantExpiry := now.Add(24 * time.Hour)
	if !order.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s got %s", wantExpiry, order.ExpiresAt)
	}
	if order.Notes != "leave at reception" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}

	if insertedOrder.ID != order.ID {
		t.Fatal("expected order persisted")
	}
	if insertedPayment.OrderID != order.ID {
		t.Fatal("expected payment bound to order")
	}
	if insertedPayment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected payment PENDING got %s", insertedPayment.Status)
	}
	if !strings.HasPrefix(insertedPayment.ID, "pay_") || !strings.HasPrefix(insertedPayment.ExternalRef, "PAY-") {
		t.Fatalf("unexpected payment identifiers %+v", insertedPayment)
	}

	instr := result.Instruction
	if instr.ExternalRef != insertedPayment.ExternalRef {
		t.Fatalf("instruction ref mismatch: %s vs %s", instr.ExternalRef, insertedPayment.ExternalRef)
	}
	if instr.Amount != 3500 || instr.PaymentMethod != "BANK_TRANSFER" {
		t.Fatalf("unexpected instruction %+v", instr)
	}
	if instr.BankName != "Bank Central" || instr.AccountNumber != "123-456-7890" {
		t.Fatalf("expected configured bank details, got %+v", instr)
	}
	if !instr.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected instruction expiry %s got %s", wantExpiry, instr.ExpiresAt)
	}

	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event got %+v", events.events)
	}
	if events.events[0].ActorID != "user-1" {
		t.Fatalf("expected customer attribution, got %+v", events.events[0])
	}
	if events.events[0].CustomerID != "user-1" || events.events[0].Amount != 3500 {
		t.Fatalf("expected customer and amount on event, got %+v", events.events[0])
	}
}

func TestCreateOrderAdmissionShortfall(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			t.Fatal("order must not be persisted on shortfall")
			return nil
		},
	}
	svc := newTestCheckoutService(t, orders, &stubPaymentRepo{}, catalogRepo(testCatalog()), &stubCounterRepo{}, time.Now(), nil)

	// prod-b holds 3 units; two lines of the same product aggregate to 4.
	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		CustomerID: "user-1",
		Lines: []CartLine{
			{ProductID: "prod-b", Quantity: 2},
			{ProductID: "prod-b", Quantity: 2},
		},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock got %v", err)
	}
	var detail *InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("expected shortfall detail, got %T", err)
	}
	if len(detail.Shortfalls) != 1 {
		t.Fatalf("expected one shortfall got %+v", detail.Shortfalls)
	}
	got := detail.Shortfalls[0]
	if got.ProductID != "prod-b" || got.Requested != 4 || got.Available != 3 {
		t.Fatalf("unexpected shortfall %+v", got)
	}
}

func TestCreateOrderRejectsInactiveProduct(t *testing.T) {
	svc := newTestCheckoutService(t, &stubOrderRepo{}, &stubPaymentRepo{}, catalogRepo(testCatalog()), &stubCounterRepo{}, time.Now(), nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "user-1",
		Lines:      []CartLine{{ProductID: "prod-c", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}
}

func TestCreateOrderRejectsUnknownProduct(t *testing.T) {
	svc := newTestCheckoutService(t, &stubOrderRepo{}, &stubPaymentRepo{}, catalogRepo(testCatalog()), &stubCounterRepo{}, time.Now(), nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "user-1",
		Lines:      []CartLine{{ProductID: "prod-x", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc := newTestCheckoutService(t, &stubOrderRepo{}, &stubPaymentRepo{}, catalogRepo(testCatalog()), &stubCounterRepo{}, time.Now(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{"missing customer", CreateOrderCommand{Lines: []CartLine{{ProductID: "prod-a", Quantity: 1}}}},
		{"empty cart", CreateOrderCommand{CustomerID: "user-1"}},
		{"zero quantity", CreateOrderCommand{CustomerID: "user-1", Lines: []CartLine{{ProductID: "prod-a", Quantity: 0}}}},
		{"negative quantity", CreateOrderCommand{CustomerID: "user-1", Lines: []CartLine{{ProductID: "prod-a", Quantity: -2}}}},
		{"blank product id", CreateOrderCommand{CustomerID: "user-1", Lines: []CartLine{{ProductID: "  ", Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateOrder(ctx, tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput got %v", err)
			}
		})
	}
}

func TestLowStockReport(t *testing.T) {
	products := &stubProductRepo{
		lowStockFn: func(_ context.Context, limit int) ([]domain.Product, error) {
			if limit != 50 {
				t.Fatalf("expected default limit 50 got %d", limit)
			}
			return []domain.Product{{ID: "prod-b", Stock: 0, MinStock: 1}}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	report, err := svc.LowStockReport(context.Background(), 0)
	if err != nil {
		t.Fatalf("low stock report: %v", err)
	}
	if len(report) != 1 || report[0].ID != "prod-b" {
		t.Fatalf("unexpected report %+v", report)
	}
}

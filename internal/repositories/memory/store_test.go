package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
	"github.com/fajargold/storefront/internal/repositories"
	"github.com/fajargold/storefront/internal/services"
)

func newOrderService(t *testing.T, store *Store) services.OrderService {
	t.Helper()
	svc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     store,
		Payments:   store.Payments(),
		Stock:      store,
		UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func seedConfirmableOrder(t *testing.T, store *Store, orderID string, lines map[string]int) {
	t.Helper()
	now := time.Now().UTC()
	var items []domain.OrderItem
	var total int64
	i := 0
	for productID, qty := range lines {
		items = append(items, domain.OrderItem{
			ID:        fmt.Sprintf("itm_%s_%d", orderID, i),
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  qty,
			UnitPrice: 100,
			Subtotal:  int64(qty) * 100,
		})
		total += int64(qty) * 100
		i++
	}
	order := domain.Order{
		ID:          orderID,
		OrderNumber: "FG-2026-" + orderID,
		CustomerID:  "user-1",
		Status:      domain.OrderStatusPendingConfirmation,
		Items:       items,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	if err := store.Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order %s: %v", orderID, err)
	}
	payment := domain.PaymentTransaction{
		ID:          "pay_" + orderID,
		OrderID:     orderID,
		ExternalRef: "PAY-" + orderID,
		Amount:      total,
		Status:      domain.PaymentStatusProcessing,
		CreatedAt:   now,
	}
	if err := store.InsertPayment(context.Background(), payment); err != nil {
		t.Fatalf("seed payment for %s: %v", orderID, err)
	}
}

func TestConcurrentConfirmsNeverOversell(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 5, MinStock: 1})
	svc := newOrderService(t, store)

	const orders = 8
	for i := 0; i < orders; i++ {
		seedConfirmableOrder(t, store, fmt.Sprintf("ord_%d", i), map[string]int{"prod-a": 1})
	}

	var wg sync.WaitGroup
	errs := make([]error, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{
				OrderID: fmt.Sprintf("ord_%d", idx),
				AdminID: "admin-1",
			})
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	confirmed, rejected := 0, 0
	for idx, err := range errs {
		switch {
		case err == nil:
			confirmed++
		case errors.Is(err, services.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("order %d: unexpected error %v", idx, err)
		}
	}
	if confirmed != 5 || rejected != 3 {
		t.Fatalf("expected 5 confirms and 3 rejections, got %d/%d", confirmed, rejected)
	}
	if stock, _ := store.ProductStock("prod-a"); stock != 0 {
		t.Fatalf("expected stock 0 after confirms, got %d", stock)
	}
}

func TestLastUnitRace(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Kettle", Active: true, UnitPrice: 100, Stock: 1, MinStock: 0})
	svc := newOrderService(t, store)

	seedConfirmableOrder(t, store, "ord_x", map[string]int{"prod-a": 1})
	seedConfirmableOrder(t, store, "ord_y", map[string]int{"prod-a": 1})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"ord_x", "ord_y"} {
		wg.Add(1)
		go func(idx int, orderID string) {
			defer wg.Done()
			_, err := svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{OrderID: orderID, AdminID: "admin-1"})
			results[idx] = err
		}(i, id)
	}
	wg.Wait()

	okCount, shortCount := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, services.ErrInsufficientStock):
			shortCount++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if okCount != 1 || shortCount != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d short=%d", okCount, shortCount)
	}
	if stock, _ := store.ProductStock("prod-a"); stock != 0 {
		t.Fatalf("expected stock 0, got %d", stock)
	}
}

func TestCancelAfterConfirmRestoresStock(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 4, MinStock: 1})
	svc := newOrderService(t, store)

	seedConfirmableOrder(t, store, "ord_1", map[string]int{"prod-a": 3})

	if _, err := svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{OrderID: "ord_1", AdminID: "admin-1"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if stock, _ := store.ProductStock("prod-a"); stock != 1 {
		t.Fatalf("expected stock 1 after confirm, got %d", stock)
	}

	if _, err := svc.CancelOrder(context.Background(), services.CancelOrderCommand{OrderID: "ord_1", ActorID: "admin-1", AsAdmin: true, Reason: "damaged"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if stock, _ := store.ProductStock("prod-a"); stock != 4 {
		t.Fatalf("expected stock restored to 4, got %d", stock)
	}
}

func TestTwoLineShortfallDeductsNothing(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 10, MinStock: 1})
	store.SeedProduct(domain.Product{ID: "prod-b", Name: "Kettle", Active: true, UnitPrice: 100, Stock: 1, MinStock: 0})
	svc := newOrderService(t, store)

	seedConfirmableOrder(t, store, "ord_1", map[string]int{"prod-a": 2, "prod-b": 2})

	_, err := svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{OrderID: "ord_1", AdminID: "admin-1"})
	if !errors.Is(err, services.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock got %v", err)
	}

	if stock, _ := store.ProductStock("prod-a"); stock != 10 {
		t.Fatalf("expected prod-a untouched at 10, got %d", stock)
	}
	if stock, _ := store.ProductStock("prod-b"); stock != 1 {
		t.Fatalf("expected prod-b untouched at 1, got %d", stock)
	}

	order, err := store.FindByID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		t.Fatalf("expected order still PENDING_CONFIRMATION, got %s", order.Status)
	}
}

func TestLockWaitExhaustionIsContention(t *testing.T) {
	store := NewStore(WithLockWait(50 * time.Millisecond))
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 5, MinStock: 1})
	svc := newOrderService(t, store)

	seedConfirmableOrder(t, store, "ord_1", map[string]int{"prod-a": 1})

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.RunInTx(context.Background(), func(ctx context.Context) error {
			if _, err := store.LockAndRead(ctx, "prod-a"); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	_, err := svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{OrderID: "ord_1", AdminID: "admin-1"})
	close(release)
	if !errors.Is(err, services.ErrStockContention) {
		t.Fatalf("expected ErrStockContention got %v", err)
	}

	order, findErr := store.FindByID(context.Background(), "ord_1")
	if findErr != nil {
		t.Fatalf("find order: %v", findErr)
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		t.Fatalf("expected order untouched, got %s", order.Status)
	}
}

func TestUnitOfWorkDiscardsOnError(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 5, MinStock: 1})

	now := time.Now().UTC()
	sentinel := errors.New("abort")
	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		if _, err := store.LockAndRead(ctx, "prod-a"); err != nil {
			return err
		}
		if err := store.Insert(ctx, domain.Order{ID: "ord_ghost", Status: domain.OrderStatusPendingPayment, CreatedAt: now}); err != nil {
			return err
		}
		if err := store.Adjust(ctx, "prod-a", -2); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	if _, err := store.FindByID(context.Background(), "ord_ghost"); err == nil {
		t.Fatal("expected staged order to be discarded")
	}
	if stock, _ := store.ProductStock("prod-a"); stock != 5 {
		t.Fatalf("expected stock unchanged at 5, got %d", stock)
	}
}

func TestReadAfterStagedWriteFailsUnit(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	order := domain.Order{ID: "ord_1", Status: domain.OrderStatusPendingPayment, CreatedAt: now}
	if err := store.Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		order.Notes = "touched"
		if err := store.Update(ctx, order); err != nil {
			return err
		}
		if _, err := store.FindByID(ctx, "ord_1"); err == nil {
			t.Fatal("expected read after staged write to fail")
		}
		// Swallowing the read error must not let the unit commit.
		return nil
	})
	if err == nil {
		t.Fatal("expected unit to abort")
	}

	committed, findErr := store.FindByID(context.Background(), "ord_1")
	if findErr != nil {
		t.Fatalf("find order: %v", findErr)
	}
	if committed.Notes != "" {
		t.Fatalf("expected staged update discarded, got notes %q", committed.Notes)
	}
}

func TestExpireOverdueMarksPaymentExpired(t *testing.T) {
	store := NewStore()
	svc := newOrderService(t, store)

	now := time.Now().UTC()
	order := domain.Order{
		ID:          "ord_1",
		OrderNumber: "FG-2026-ord_1",
		CustomerID:  "user-1",
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: 500,
		CreatedAt:   now.Add(-48 * time.Hour),
		UpdatedAt:   now.Add(-48 * time.Hour),
		ExpiresAt:   now.Add(-24 * time.Hour),
	}
	if err := store.Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	payment := domain.PaymentTransaction{
		ID:          "pay_ord_1",
		OrderID:     "ord_1",
		ExternalRef: "PAY-ord_1",
		Amount:      500,
		Status:      domain.PaymentStatusPending,
		CreatedAt:   order.CreatedAt,
	}
	if err := store.InsertPayment(context.Background(), payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	expired, err := svc.ExpireOverdue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired order, got %d", expired)
	}

	swept, err := store.FindByID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if swept.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", swept.Status)
	}
	sweptPayment, err := store.FindByOrderID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if sweptPayment.Status != domain.PaymentStatusExpired {
		t.Fatalf("expected payment EXPIRED got %s", sweptPayment.Status)
	}
}

// failingOrderUpdates makes every order update fail while the rest of the
// store behaves normally.
type failingOrderUpdates struct {
	*Store
	err error
}

func (f *failingOrderUpdates) Update(context.Context, domain.Order) error { return f.err }

func TestConfirmAbortsWhenOrderWriteFails(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Name: "Beans", Active: true, UnitPrice: 100, Stock: 5, MinStock: 1})
	seedConfirmableOrder(t, store, "ord_1", map[string]int{"prod-a": 2})

	boom := errors.New("write rejected")
	svc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     &failingOrderUpdates{Store: store, err: boom},
		Payments:   store.Payments(),
		Stock:      store,
		UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.ConfirmPayment(context.Background(), services.ConfirmPaymentCommand{OrderID: "ord_1", AdminID: "admin-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected write failure, got %v", err)
	}

	if stock, _ := store.ProductStock("prod-a"); stock != 5 {
		t.Fatalf("expected stock unchanged at 5, got %d", stock)
	}
	order, findErr := store.FindByID(context.Background(), "ord_1")
	if findErr != nil {
		t.Fatalf("find order: %v", findErr)
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		t.Fatalf("expected order untouched, got %s", order.Status)
	}
	payment, payErr := store.FindByOrderID(context.Background(), "ord_1")
	if payErr != nil {
		t.Fatalf("find payment: %v", payErr)
	}
	if payment.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected payment untouched, got %s", payment.Status)
	}
}

func TestStockRequiresTransaction(t *testing.T) {
	store := NewStore()
	store.SeedProduct(domain.Product{ID: "prod-a", Active: true, Stock: 5})

	_, err := store.LockAndRead(context.Background(), "prod-a")
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNoTransaction {
		t.Fatalf("expected no-transaction error, got %v", err)
	}
	if err := store.Adjust(context.Background(), "prod-a", -1); err == nil {
		t.Fatal("expected adjust outside transaction to fail")
	}
}

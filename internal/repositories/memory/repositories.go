package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
	"github.com/fajargold/storefront/internal/repositories"
)

// repoError implements repositories.RepositoryError for in-memory failures.
type repoError struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *repoError) Error() string       { return fmt.Sprintf("%s: %s", e.op, e.msg) }
func (e *repoError) IsNotFound() bool    { return e != nil && e.notFound }
func (e *repoError) IsConflict() bool    { return e != nil && e.conflict }
func (e *repoError) IsUnavailable() bool { return false }

func notFound(op, msg string) error { return &repoError{op: op, msg: msg, notFound: true} }
func conflict(op, msg string) error { return &repoError{op: op, msg: msg, conflict: true} }

// Order repository ----------------------------------------------------------

func (s *Store) Insert(ctx context.Context, order domain.Order) error {
	if sess, ok := sessionFrom(ctx); ok {
		if s.orderExists(sess, order.ID) {
			return conflict("orders.insert", fmt.Sprintf("order %s already exists", order.ID))
		}
		sess.orderWrites[order.ID] = order
		delete(sess.orderDeletes, order.ID)
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return conflict("orders.insert", fmt.Sprintf("order %s already exists", order.ID))
	}
	s.orders[order.ID] = order
	return nil
}

func (s *Store) Update(ctx context.Context, order domain.Order) error {
	if sess, ok := sessionFrom(ctx); ok {
		if !s.orderExists(sess, order.ID) {
			return notFound("orders.update", fmt.Sprintf("order %s not found", order.ID))
		}
		sess.orderWrites[order.ID] = order
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; !exists {
		return notFound("orders.update", fmt.Sprintf("order %s not found", order.ID))
	}
	s.orders[order.ID] = order
	return nil
}

func (s *Store) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if sess, ok := sessionFrom(ctx); ok {
		if err := sess.guardRead("orders.get"); err != nil {
			return domain.Order{}, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	order, exists := s.orders[orderID]
	if !exists {
		return domain.Order{}, notFound("orders.get", fmt.Sprintf("order %s not found", orderID))
	}
	return order, nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	return s.listOrders(limit, func(order domain.Order) bool {
		return order.Status == status
	}), nil
}

func (s *Store) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	return s.listOrders(limit, func(order domain.Order) bool {
		return order.CustomerID == customerID
	}), nil
}

func (s *Store) ListExpiredPendingPayment(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	return s.listOrders(limit, func(order domain.Order) bool {
		return order.Status == domain.OrderStatusPendingPayment && !order.ExpiresAt.IsZero() && !order.ExpiresAt.After(cutoff)
	}), nil
}

func (s *Store) CountByStatus(_ context.Context, status domain.OrderStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, order := range s.orders {
		if order.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *Store) Delete(ctx context.Context, orderID string) error {
	if sess, ok := sessionFrom(ctx); ok {
		if !s.orderExists(sess, orderID) {
			return notFound("orders.delete", fmt.Sprintf("order %s not found", orderID))
		}
		sess.orderDeletes[orderID] = struct{}{}
		delete(sess.orderWrites, orderID)
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[orderID]; !exists {
		return notFound("orders.delete", fmt.Sprintf("order %s not found", orderID))
	}
	delete(s.orders, orderID)
	return nil
}

func (s *Store) orderExists(sess *session, orderID string) bool {
	if _, deleted := sess.orderDeletes[orderID]; deleted {
		return false
	}
	if _, staged := sess.orderWrites[orderID]; staged {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.orders[orderID]
	return exists
}

func (s *Store) listOrders(limit int, match func(domain.Order) bool) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []domain.Order
	for _, order := range s.orders {
		if match(order) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

// Payment repository --------------------------------------------------------

func (s *Store) InsertPayment(ctx context.Context, payment domain.PaymentTransaction) error {
	if sess, ok := sessionFrom(ctx); ok {
		if s.paymentExists(sess, payment.ID) {
			return conflict("payments.insert", fmt.Sprintf("payment %s already exists", payment.ID))
		}
		sess.paymentWrites[payment.ID] = payment
		delete(sess.paymentDeletes, payment.ID)
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[payment.ID]; exists {
		return conflict("payments.insert", fmt.Sprintf("payment %s already exists", payment.ID))
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.PaymentTransaction) error {
	if sess, ok := sessionFrom(ctx); ok {
		if !s.paymentExists(sess, payment.ID) {
			return notFound("payments.update", fmt.Sprintf("payment %s not found", payment.ID))
		}
		sess.paymentWrites[payment.ID] = payment
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[payment.ID]; !exists {
		return notFound("payments.update", fmt.Sprintf("payment %s not found", payment.ID))
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *Store) FindByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	return s.findPayment(ctx, "payments.findByOrder", func(payment domain.PaymentTransaction) bool {
		return payment.OrderID == orderID
	})
}

func (s *Store) FindByExternalRef(ctx context.Context, externalRef string) (domain.PaymentTransaction, error) {
	return s.findPayment(ctx, "payments.findByRef", func(payment domain.PaymentTransaction) bool {
		return payment.ExternalRef == externalRef
	})
}

func (s *Store) DeleteByOrderID(ctx context.Context, orderID string) error {
	if sess, ok := sessionFrom(ctx); ok {
		for _, payment := range s.paymentsSnapshot(sess) {
			if payment.OrderID == orderID {
				sess.paymentDeletes[payment.ID] = struct{}{}
				delete(sess.paymentWrites, payment.ID)
			}
		}
		sess.noteWrite()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, payment := range s.payments {
		if payment.OrderID == orderID {
			delete(s.payments, id)
		}
	}
	return nil
}

func (s *Store) findPayment(ctx context.Context, op string, match func(domain.PaymentTransaction) bool) (domain.PaymentTransaction, error) {
	if sess, ok := sessionFrom(ctx); ok {
		if err := sess.guardRead(op); err != nil {
			return domain.PaymentTransaction{}, err
		}
	}

	var candidates []domain.PaymentTransaction
	s.mu.RLock()
	for _, payment := range s.payments {
		candidates = append(candidates, payment)
	}
	s.mu.RUnlock()

	for _, payment := range candidates {
		if match(payment) {
			return payment, nil
		}
	}
	return domain.PaymentTransaction{}, notFound(op, "payment not found")
}

func (s *Store) paymentExists(sess *session, paymentID string) bool {
	if _, deleted := sess.paymentDeletes[paymentID]; deleted {
		return false
	}
	if _, staged := sess.paymentWrites[paymentID]; staged {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.payments[paymentID]
	return exists
}

func (s *Store) paymentsSnapshot(sess *session) []domain.PaymentTransaction {
	s.mu.RLock()
	merged := make(map[string]domain.PaymentTransaction, len(s.payments))
	for id, payment := range s.payments {
		merged[id] = payment
	}
	s.mu.RUnlock()

	for id, payment := range sess.paymentWrites {
		merged[id] = payment
	}
	for id := range sess.paymentDeletes {
		delete(merged, id)
	}

	payments := make([]domain.PaymentTransaction, 0, len(merged))
	for _, payment := range merged {
		payments = append(payments, payment)
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments
}

// Product repository --------------------------------------------------------

func (s *Store) FindProductByID(_ context.Context, productID string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, exists := s.products[strings.TrimSpace(productID)]
	if !exists {
		return domain.Product{}, notFound("products.get", fmt.Sprintf("product %s not found", productID))
	}
	return product, nil
}

func (s *Store) ListLowStock(_ context.Context, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var products []domain.Product
	for _, product := range s.products {
		if product.Active && product.LowOnStock() {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool {
		di := products[i].Stock - products[i].MinStock
		dj := products[j].Stock - products[j].MinStock
		if di == dj {
			return products[i].ID < products[j].ID
		}
		return di < dj
	})
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

// Interface views -----------------------------------------------------------
//
// Order methods live on Store directly; payments and products get views so
// the Insert/Update/FindByID names do not collide across interfaces.

type paymentView struct{ store *Store }

func (v paymentView) Insert(ctx context.Context, payment domain.PaymentTransaction) error {
	return v.store.InsertPayment(ctx, payment)
}

func (v paymentView) Update(ctx context.Context, payment domain.PaymentTransaction) error {
	return v.store.UpdatePayment(ctx, payment)
}

func (v paymentView) FindByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	return v.store.FindByOrderID(ctx, orderID)
}

func (v paymentView) FindByExternalRef(ctx context.Context, externalRef string) (domain.PaymentTransaction, error) {
	return v.store.FindByExternalRef(ctx, externalRef)
}

func (v paymentView) DeleteByOrderID(ctx context.Context, orderID string) error {
	return v.store.DeleteByOrderID(ctx, orderID)
}

type productView struct{ store *Store }

func (v productView) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return v.store.FindProductByID(ctx, productID)
}

func (v productView) ListLowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	return v.store.ListLowStock(ctx, limit)
}

// Payments returns the payment repository view over the store.
func (s *Store) Payments() repositories.PaymentRepository { return paymentView{store: s} }

// Products returns the product repository view over the store.
func (s *Store) Products() repositories.ProductRepository { return productView{store: s} }

// Counter repository --------------------------------------------------------

func (s *Store) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterID] += step
	return s.counters[counterID], nil
}

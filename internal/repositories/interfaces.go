package repositories

import (
	"context"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into a single atomic unit. Every
// mutation performed through the callback's context commits together or not
// at all; an error from fn aborts the whole unit.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their owned line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	// ListExpiredPendingPayment returns orders still awaiting payment whose
	// window elapsed before cutoff, for the external expiry sweeper.
	ListExpiredPendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error)
	// Delete removes the order and its line items. Used only by the
	// administrative purge path.
	Delete(ctx context.Context, orderID string) error
}

// PaymentRepository persists the payment transaction attached to each order.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.PaymentTransaction) error
	Update(ctx context.Context, payment domain.PaymentTransaction) error
	FindByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error)
	FindByExternalRef(ctx context.Context, externalRef string) (domain.PaymentTransaction, error)
	DeleteByOrderID(ctx context.Context, orderID string) error
}

// ProductRepository is the read surface the core consumes from the catalog
// collaborator. Stock mutation goes through StockLedger, never through here.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	ListLowStock(ctx context.Context, limit int) ([]domain.Product, error)
}

// StockLedger is the exclusive-per-product stock primitive. It has no notion
// of orders: any caller needing the atomic check-then-adjust pattern runs
// both calls inside one UnitOfWork unit.
//
// LockAndRead returns the current quantity under an exclusive hold released
// when the enclosing unit commits or aborts. Adjust applies a delta (negative
// to deduct, positive to restore) and fails the enclosing unit rather than
// let a quantity go below zero. Backends that stage writes until commit
// require every LockAndRead of the unit to precede its first Adjust; callers
// lock all products in ascending id order, then adjust.
type StockLedger interface {
	LockAndRead(ctx context.Context, productID string) (int, error)
	Adjust(ctx context.Context, productID string, delta int) error
}

// CounterRepository yields monotonically increasing sequence values, used for
// human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

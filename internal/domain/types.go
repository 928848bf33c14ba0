package domain

import (
	"time"
)

// Order is the customer order aggregate root shared across layers.
// TotalAmount is expressed in minor currency units, computed once at
// checkout from the line-item subtotals and never recomputed afterwards.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string
	Items       []OrderItem
	TotalAmount int64
	Status      OrderStatus
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// IsExpired reports whether the payment window for a still-unpaid order has passed.
func (o Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// StockDeducted reports whether the order has reached a status where the
// authoritative stock deduction already happened, so cancellation must
// restore the ledger.
func (o Order) StockDeducted() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// OrderItem is a line item owned by exactly one order. UnitPrice is the
// catalog price frozen at checkout; Quantity and UnitPrice are immutable
// after creation.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// PaymentTransaction records the single payment intent attached to an order.
// ExternalRef is the identifier handed to the payment-proof collaborator to
// look the order back up.
type PaymentTransaction struct {
	ID            string
	OrderID       string
	ExternalRef   string
	Amount        int64
	Status        PaymentStatus
	ProofAttached bool
	Notes         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Product is the catalog collaborator's view consumed by the core. The core
// is the only legitimate mutator of Stock during order processing; MinStock
// is an advisory reporting threshold and never blocks a legal deduction.
type Product struct {
	ID        string
	Name      string
	Active    bool
	UnitPrice int64
	Stock     int
	MinStock  int
	UpdatedAt time.Time
}

// LowOnStock reports whether the product sits below its advisory threshold.
func (p Product) LowOnStock() bool {
	return p.Stock < p.MinStock
}

// OrderStatistics aggregates order counts per status for admin dashboards.
type OrderStatistics struct {
	Total               int64
	PendingPayment      int64
	PendingConfirmation int64
	Paid                int64
	Processing          int64
	Shipped             int64
	Delivered           int64
	Cancelled           int64
	Refunded            int64
}

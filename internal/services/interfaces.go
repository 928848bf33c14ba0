package services

import (
	"context"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderStatistics    = domain.OrderStatistics
	PaymentTransaction = domain.PaymentTransaction
	PaymentStatus      = domain.PaymentStatus
	Product            = domain.Product
)

// CheckoutService admits carts into the order pipeline. Admission never
// touches stock; the authoritative deduction happens at payment confirmation.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
}

// OrderService owns the order lifecycle from payment proof to delivery,
// including the stock effects of confirmation and cancellation.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	OnProofUploaded(ctx context.Context, cmd ProofUploadedCommand) (Order, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	StartProcessing(ctx context.Context, cmd OrderActionCommand) (Order, error)
	ShipOrder(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	MarkDelivered(ctx context.Context, cmd OrderActionCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	ListExpiredPendingPayment(ctx context.Context, now time.Time, limit int) ([]Order, error)
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
	Statistics(ctx context.Context) (OrderStatistics, error)
	PurgeOrder(ctx context.Context, cmd PurgeOrderCommand) error
}

// InventoryService exposes catalog stock reads used by the admin surface.
type InventoryService interface {
	LowStockReport(ctx context.Context, limit int) ([]Product, error)
}

// CartLine is one requested line of a checkout.
type CartLine struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand carries everything needed to admit a checkout.
type CreateOrderCommand struct {
	CustomerID string
	Lines      []CartLine
	Notes      string
}

// CheckoutResult pairs the persisted order with the instruction returned to the buyer.
type CheckoutResult struct {
	Order       Order
	Instruction PaymentInstruction
}

// PaymentInstruction tells the buyer how to settle the order out of band.
type PaymentInstruction struct {
	ExternalRef   string
	Amount        int64
	PaymentMethod string
	BankName      string
	AccountNumber string
	Instructions  string
	ExpiresAt     time.Time
}

// ProofUploadedCommand signals that the proof collaborator stored a transfer receipt.
type ProofUploadedCommand struct {
	ExternalRef string
}

// ConfirmPaymentCommand records an admin approving a payment proof.
type ConfirmPaymentCommand struct {
	OrderID string
	AdminID string
	Notes   string
}

// CancelOrderCommand cancels an order on behalf of a customer or an admin.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	AsAdmin bool
	Reason  string
}

// OrderActionCommand is the shared shape for plain admin transitions.
type OrderActionCommand struct {
	OrderID string
	ActorID string
}

// ShipOrderCommand records dispatch together with the carrier tracking number.
type ShipOrderCommand struct {
	OrderID        string
	ActorID        string
	TrackingNumber string
}

// RefundOrderCommand marks a delivered order as refunded.
type RefundOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// PurgeOrderCommand hard-deletes an order with its items and payment records.
type PurgeOrderCommand struct {
	OrderID string
	ActorID string
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     OrderStatus
	CustomerID string
	Limit      int
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// RevenueFactPublisher records settled revenue for reporting pipelines.
type RevenueFactPublisher interface {
	PublishRevenueFact(ctx context.Context, fact RevenueFact) error
}

// OrderEvent captures metadata for emitted order domain events. Every event
// carries the order, its customer, and the order amount alongside the
// transition it records.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Amount         int64
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// RevenueFact is published once per confirmed payment.
type RevenueFact struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	AdminID     string
	OccurredAt  time.Time
}

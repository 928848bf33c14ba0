package domain

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPendingPayment marks a newly placed order awaiting customer payment.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPendingConfirmation marks an order whose payment proof awaits admin review.
	OrderStatusPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	// OrderStatusPaid marks an order whose payment was confirmed and stock deducted.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing marks an order being prepared for shipment.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered marks an order received by the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal; stock is restored when deduction had happened.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// orderTransitions is the single source of truth for legal status changes.
// Adding a state means touching this table and nothing else.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:      {OrderStatusPendingConfirmation, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPendingConfirmation: {OrderStatusPaid, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusPaid:                {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:          {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:             {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:           {OrderStatusRefunded},
	OrderStatusCancelled:           {},
	OrderStatusRefunded:            {},
}

// CanTransitionTo reports whether target is a legal next status. It is pure
// and total: unknown statuses simply have no outgoing edges.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// IsActive reports whether the order still counts toward open work.
func (s OrderStatus) IsActive() bool {
	return s != OrderStatusCancelled && s != OrderStatusRefunded
}

// CustomerCancellable reports whether the customer-facing path may cancel an
// order in this status. Admin cancellation is wider and handled by the order
// service.
func (s OrderStatus) CustomerCancellable() bool {
	return s == OrderStatusPendingPayment || s == OrderStatusPendingConfirmation
}

// KnownOrderStatus reports whether the value is one of the defined statuses.
func KnownOrderStatus(s OrderStatus) bool {
	_, ok := orderTransitions[s]
	return ok
}

// OrderStatuses lists every known order status.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPendingPayment,
		OrderStatusPendingConfirmation,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// PaymentStatus enumerates the states of a payment transaction.
type PaymentStatus string

const (
	// PaymentStatusPending marks a transaction awaiting the customer's payment.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusProcessing marks a transaction whose proof was uploaded and awaits review.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	// PaymentStatusSuccess is terminal: the admin confirmed the payment.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusFailed is terminal.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusExpired is terminal: the payment window lapsed.
	PaymentStatusExpired PaymentStatus = "EXPIRED"
	// PaymentStatusCancelled is terminal.
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// IsFinal reports whether the payment reached a terminal state.
func (s PaymentStatus) IsFinal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// IsPending reports whether the payment still awaits resolution.
func (s PaymentStatus) IsPending() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// IsSuccessful reports whether the payment was confirmed.
func (s PaymentStatus) IsSuccessful() bool {
	return s == PaymentStatusSuccess
}

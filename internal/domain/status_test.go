package domain

import (
	"testing"
	"time"
)

func TestOrderStatusTransitionTable(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPendingPayment, OrderStatusPendingConfirmation}: true,
		{OrderStatusPendingPayment, OrderStatusPaid}:                true,
		{OrderStatusPendingPayment, OrderStatusCancelled}:           true,
		{OrderStatusPendingConfirmation, OrderStatusPaid}:           true,
		{OrderStatusPendingConfirmation, OrderStatusProcessing}:     true,
		{OrderStatusPendingConfirmation, OrderStatusCancelled}:      true,
		{OrderStatusPaid, OrderStatusProcessing}:                    true,
		{OrderStatusPaid, OrderStatusCancelled}:                     true,
		{OrderStatusProcessing, OrderStatusShipped}:                 true,
		{OrderStatusProcessing, OrderStatusCancelled}:               true,
		{OrderStatusShipped, OrderStatusDelivered}:                  true,
		{OrderStatusShipped, OrderStatusCancelled}:                  true,
		{OrderStatusDelivered, OrderStatusRefunded}:                 true,
	}

	for _, from := range OrderStatuses() {
		for _, to := range OrderStatuses() {
			want := allowed[[2]OrderStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestOrderStatusTotalOverUnknownValues(t *testing.T) {
	bogus := OrderStatus("SOMETHING_ELSE")
	for _, to := range OrderStatuses() {
		if bogus.CanTransitionTo(to) {
			t.Errorf("unknown status must have no outgoing edges, got edge to %s", to)
		}
	}
	if OrderStatusPaid.CanTransitionTo(bogus) {
		t.Error("no status may transition to an unknown value")
	}
	if bogus.IsTerminal() {
		t.Error("unknown status must not report terminal")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range OrderStatuses() {
		wantTerminal := s == OrderStatusCancelled || s == OrderStatusRefunded
		if s.IsTerminal() != wantTerminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", s, s.IsTerminal(), wantTerminal)
		}
		if s.IsActive() == wantTerminal {
			t.Errorf("IsActive(%s) must be the inverse of terminal", s)
		}
	}
}

func TestCustomerCancellable(t *testing.T) {
	cancellable := map[OrderStatus]bool{
		OrderStatusPendingPayment:      true,
		OrderStatusPendingConfirmation: true,
	}
	for _, s := range OrderStatuses() {
		if got := s.CustomerCancellable(); got != cancellable[s] {
			t.Errorf("CustomerCancellable(%s) = %v, want %v", s, got, cancellable[s])
		}
	}
}

func TestPaymentStatusFinality(t *testing.T) {
	final := []PaymentStatus{PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled}
	for _, s := range final {
		if !s.IsFinal() {
			t.Errorf("IsFinal(%s) = false, want true", s)
		}
		if s.IsPending() {
			t.Errorf("IsPending(%s) = true for a final status", s)
		}
	}
	for _, s := range []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing} {
		if s.IsFinal() {
			t.Errorf("IsFinal(%s) = true, want false", s)
		}
		if !s.IsPending() {
			t.Errorf("IsPending(%s) = false, want true", s)
		}
	}
	if !PaymentStatusSuccess.IsSuccessful() || PaymentStatusFailed.IsSuccessful() {
		t.Error("IsSuccessful must hold for SUCCESS only")
	}
}

func TestOrderStockDeducted(t *testing.T) {
	deducted := map[OrderStatus]bool{
		OrderStatusPaid:       true,
		OrderStatusProcessing: true,
		OrderStatusShipped:    true,
		OrderStatusDelivered:  true,
	}
	for _, s := range OrderStatuses() {
		o := Order{Status: s}
		if got := o.StockDeducted(); got != deducted[s] {
			t.Errorf("StockDeducted(%s) = %v, want %v", s, got, deducted[s])
		}
	}
}

func TestOrderIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := Order{ExpiresAt: now.Add(-time.Minute)}
	if !o.IsExpired(now) {
		t.Error("order past its window must report expired")
	}
	o.ExpiresAt = now.Add(time.Minute)
	if o.IsExpired(now) {
		t.Error("order inside its window must not report expired")
	}
	if (Order{}).IsExpired(now) {
		t.Error("zero ExpiresAt means no window")
	}
}

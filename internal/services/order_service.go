package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fajargold/storefront/internal/domain"
	"github.com/fajargold/storefront/internal/repositories"
)

const (
	orderEventProofUploaded = "order.proof_uploaded"
	orderEventConfirmed     = "order.confirmed"
	orderEventCancelled     = "order.cancelled"
	orderEventExpired       = "order.expired"
	orderEventProcessing    = "order.processing"
	orderEventShipped       = "order.shipped"
	orderEventDelivered     = "order.delivered"
	orderEventRefunded      = "order.refunded"
	orderEventPurged        = "order.purged"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent mutation conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not perform the action on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	Stock       repositories.StockLedger
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Revenue     RevenueFactPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	stock      repositories.StockLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	revenue    RevenueFactPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock ledger is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		stock:      deps.Stock,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		revenue: deps.Revenue,
		logger:  logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		orders []Order
		err    error
	)
	switch {
	case strings.TrimSpace(filter.CustomerID) != "":
		orders, err = s.orders.ListByCustomer(ctx, strings.TrimSpace(filter.CustomerID), limit)
	case filter.Status != "":
		if !domain.KnownOrderStatus(filter.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
		}
		orders, err = s.orders.ListByStatus(ctx, filter.Status, limit)
	default:
		return nil, fmt.Errorf("%w: a status or customer filter is required", ErrOrderInvalidInput)
	}
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return orders, nil
}

// OnProofUploaded records that a transfer receipt arrived for the payment's
// external reference. Stock is untouched; the order merely moves into the
// admin review queue.
func (s *orderService) OnProofUploaded(ctx context.Context, cmd ProofUploadedCommand) (Order, error) {
	ref := strings.TrimSpace(cmd.ExternalRef)
	if ref == "" {
		return Order{}, fmt.Errorf("%w: external reference is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.FindByExternalRef(txCtx, ref)
		if err != nil {
			return mapRepositoryError(err)
		}
		if payment.Status.IsFinal() {
			return fmt.Errorf("%w: payment %s is already %s", ErrOrderInvalidState, payment.ID, payment.Status)
		}

		order, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusPendingConfirmation) {
			return fmt.Errorf("%w: cannot accept proof while order is %s", ErrOrderInvalidState, order.Status)
		}

		now := s.clock()
		payment.Status = domain.PaymentStatusProcessing
		payment.ProofAttached = true
		order.Status = domain.OrderStatusPendingConfirmation
		order.UpdatedAt = now

		if err := s.payments.Update(txCtx, payment); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventProofUploaded,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		Amount:         updated.TotalAmount,
		PreviousStatus: string(domain.OrderStatusPendingPayment),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

// ConfirmPayment is the single authoritative stock-deduction path. Every
// product lock is taken in ascending id order and the re-read under lock
// decides admission; the order flip, payment settlement, and deductions
// commit together or not at all.
func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	adminID := strings.TrimSpace(cmd.AdminID)
	if adminID == "" {
		return Order{}, fmt.Errorf("%w: admin id is required", ErrOrderInvalidInput)
	}

	// Cheap pre-check outside the unit so double confirms fail fast.
	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !current.Status.CanTransitionTo(domain.OrderStatusPaid) {
		return current, fmt.Errorf("%w: cannot confirm payment while order is %s", ErrOrderInvalidState, current.Status)
	}

	var (
		updated        Order
		previousStatus domain.OrderStatus
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		previousStatus = order.Status
		if !order.Status.CanTransitionTo(domain.OrderStatusPaid) {
			return fmt.Errorf("%w: cannot confirm payment while order is %s", ErrOrderInvalidState, order.Status)
		}

		payment, err := s.payments.FindByOrderID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if payment.Status.IsFinal() {
			return fmt.Errorf("%w: payment %s is already %s", ErrOrderInvalidState, payment.ID, payment.Status)
		}

		quantities := lineQuantities(order.Items)
		if err := lockAndVerify(txCtx, s.stock, quantities); err != nil {
			return err
		}
		if err := adjustAll(txCtx, s.stock, quantities, -1); err != nil {
			return err
		}

		now := s.clock()
		order.Status = domain.OrderStatusPaid
		order.PaidAt = &now
		order.UpdatedAt = now
		order.Notes = appendNote(order.Notes, cmd.Notes)

		payment.Status = domain.PaymentStatusSuccess
		payment.CompletedAt = &now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.payments.Update(txCtx, payment); err != nil {
			return mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return current, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventConfirmed,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		Amount:         updated.TotalAmount,
		PreviousStatus: string(previousStatus),
		CurrentStatus:  string(updated.Status),
		ActorID:        adminID,
		OccurredAt:     updated.UpdatedAt,
	})
	s.publishRevenue(ctx, RevenueFact{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		Amount:      updated.TotalAmount,
		AdminID:     adminID,
		OccurredAt:  updated.UpdatedAt,
	})
	return updated, nil
}

// CancelOrder flips the order to CANCELLED and, when stock was already
// deducted, restores it under the same lock discipline in the same unit.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	var (
		updated        Order
		previousStatus domain.OrderStatus
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		previousStatus = order.Status
		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: cannot cancel order while %s", ErrOrderInvalidState, order.Status)
		}
		if !cmd.AsAdmin {
			if order.CustomerID != strings.TrimSpace(cmd.ActorID) {
				return fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
			}
			if !order.Status.CustomerCancellable() {
				return fmt.Errorf("%w: customers cannot cancel an order that is %s", ErrOrderForbidden, order.Status)
			}
		}

		// Transactional reads must all happen before the first staged write,
		// so the payment lookup and the product locks come ahead of any
		// Adjust or Update.
		payment, paymentErr := s.payments.FindByOrderID(txCtx, order.ID)
		if paymentErr != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(paymentErr, &repoErr) || !repoErr.IsNotFound() {
				return mapRepositoryError(paymentErr)
			}
		}

		if order.StockDeducted() {
			quantities := lineQuantities(order.Items)
			if err := lockAll(txCtx, s.stock, quantities); err != nil {
				return err
			}
			if err := adjustAll(txCtx, s.stock, quantities, 1); err != nil {
				return err
			}
		}

		now := s.clock()
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		order.Notes = appendNote(order.Notes, cmd.Reason)

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}

		if paymentErr == nil && !payment.Status.IsFinal() {
			payment.Status = domain.PaymentStatusCancelled
			payment.CompletedAt = &now
			if err := s.payments.Update(txCtx, payment); err != nil {
				return mapRepositoryError(err)
			}
		}

		updated = order
		return nil
	})
	if err != nil {
		return current, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		Amount:         updated.TotalAmount,
		PreviousStatus: string(previousStatus),
		CurrentStatus:  string(updated.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     updated.UpdatedAt,
		Metadata: map[string]any{
			"reason":   cmd.Reason,
			"as_admin": cmd.AsAdmin,
		},
	})
	return updated, nil
}

func (s *orderService) StartProcessing(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.plainTransition(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusProcessing, orderEventProcessing, func(order *Order, now time.Time) {})
}

func (s *orderService) ShipOrder(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if tracking == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}
	return s.plainTransition(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusShipped, orderEventShipped, func(order *Order, now time.Time) {
		order.ShippedAt = &now
		order.Notes = appendNote(order.Notes, "Tracking number: "+tracking)
	})
}

func (s *orderService) MarkDelivered(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.plainTransition(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusDelivered, orderEventDelivered, func(order *Order, now time.Time) {
		order.DeliveredAt = &now
	})
}

func (s *orderService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	return s.plainTransition(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusRefunded, orderEventRefunded, func(order *Order, now time.Time) {
		order.Notes = appendNote(order.Notes, cmd.Reason)
	})
}

// plainTransition performs a status flip with no inventory effect.
func (s *orderService) plainTransition(ctx context.Context, orderID, actorID string, target domain.OrderStatus, eventType string, mutate func(*Order, time.Time)) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	var (
		updated        Order
		previousStatus domain.OrderStatus
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		previousStatus = order.Status
		if !order.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidState, order.Status, target)
		}

		now := s.clock()
		order.Status = target
		order.UpdatedAt = now
		mutate(&order, now)

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return current, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		CustomerID:     updated.CustomerID,
		Amount:         updated.TotalAmount,
		PreviousStatus: string(previousStatus),
		CurrentStatus:  string(updated.Status),
		ActorID:        actorID,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func (s *orderService) ListExpiredPendingPayment(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	orders, err := s.orders.ListExpiredPendingPayment(ctx, now.UTC(), limit)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return orders, nil
}

// ExpireOverdue cancels orders whose payment window lapsed, marking their
// payments EXPIRED. Each order is its own unit so one conflict does not stall
// the sweep. Returns the number of orders expired.
func (s *orderService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	overdue, err := s.ListExpiredPendingPayment(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range overdue {
		orderID := candidate.ID
		err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			order, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return mapRepositoryError(err)
			}
			if order.Status != domain.OrderStatusPendingPayment || !order.IsExpired(now) {
				return nil
			}

			// Read the payment before the order write is staged; the backend
			// forbids transactional reads after writes.
			payment, paymentErr := s.payments.FindByOrderID(txCtx, order.ID)

			ts := s.clock()
			order.Status = domain.OrderStatusCancelled
			order.CancelledAt = &ts
			order.UpdatedAt = ts
			order.Notes = appendNote(order.Notes, "Payment window expired")
			if err := s.orders.Update(txCtx, order); err != nil {
				return mapRepositoryError(err)
			}

			if paymentErr == nil && !payment.Status.IsFinal() {
				payment.Status = domain.PaymentStatusExpired
				payment.CompletedAt = &ts
				if err := s.payments.Update(txCtx, payment); err != nil {
					return mapRepositoryError(err)
				}
			}
			return nil
		})
		if err != nil {
			s.logger(ctx, "order.expire.failed", map[string]any{
				"order": orderID,
				"error": err.Error(),
			})
			continue
		}
		expired++
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventExpired,
			OrderID:        candidate.ID,
			OrderNumber:    candidate.OrderNumber,
			CustomerID:     candidate.CustomerID,
			Amount:         candidate.TotalAmount,
			PreviousStatus: string(domain.OrderStatusPendingPayment),
			CurrentStatus:  string(domain.OrderStatusCancelled),
			OccurredAt:     now.UTC(),
		})
	}
	return expired, nil
}

func (s *orderService) Statistics(ctx context.Context) (OrderStatistics, error) {
	var stats OrderStatistics
	targets := map[domain.OrderStatus]*int64{
		domain.OrderStatusPendingPayment:      &stats.PendingPayment,
		domain.OrderStatusPendingConfirmation: &stats.PendingConfirmation,
		domain.OrderStatusPaid:                &stats.Paid,
		domain.OrderStatusProcessing:          &stats.Processing,
		domain.OrderStatusShipped:             &stats.Shipped,
		domain.OrderStatusDelivered:           &stats.Delivered,
		domain.OrderStatusCancelled:           &stats.Cancelled,
		domain.OrderStatusRefunded:            &stats.Refunded,
	}
	for _, status := range domain.OrderStatuses() {
		count, err := s.orders.CountByStatus(ctx, status)
		if err != nil {
			return OrderStatistics{}, mapRepositoryError(err)
		}
		if target, ok := targets[status]; ok {
			*target = count
		}
		stats.Total += count
	}
	return stats, nil
}

// PurgeOrder removes the order, its items, and its payment records for good.
func (s *orderService) PurgeOrder(ctx context.Context, cmd PurgeOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var purged Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if err := s.payments.DeleteByOrderID(txCtx, orderID); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return mapRepositoryError(err)
		}
		purged = order
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPurged,
		OrderID:        purged.ID,
		OrderNumber:    purged.OrderNumber,
		CustomerID:     purged.CustomerID,
		Amount:         purged.TotalAmount,
		PreviousStatus: string(purged.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     s.clock(),
	})
	return nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) publishRevenue(ctx context.Context, fact RevenueFact) {
	if s.revenue == nil {
		return
	}
	if err := s.revenue.PublishRevenueFact(ctx, fact); err != nil {
		s.logger(ctx, "order.revenue.publish.failed", map[string]any{
			"order": fact.OrderID,
			"error": err.Error(),
		})
	}
}

func appendNote(notes, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return notes
	}
	if notes == "" {
		return addition
	}
	return notes + "\n" + addition
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

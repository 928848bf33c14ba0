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
	orderEventCreated = "order.created"

	orderIDPrefix   = "ord_"
	itemIDPrefix    = "itm_"
	paymentIDPrefix = "pay_"

	paymentRefPrefix = "PAY-"

	defaultPaymentMethod = "BANK_TRANSFER"
)

// CheckoutSettings captures store-level knobs applied at admission time.
type CheckoutSettings struct {
	PaymentWindow     time.Duration
	OrderNumberPrefix string
	BankName          string
	AccountNumber     string
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Settings    CheckoutSettings
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	products   repositories.ProductRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	settings   CheckoutSettings
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
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

	settings := deps.Settings
	if settings.PaymentWindow <= 0 {
		settings.PaymentWindow = 24 * time.Hour
	}
	if strings.TrimSpace(settings.OrderNumberPrefix) == "" {
		settings.OrderNumberPrefix = "FG"
	}

	return &checkoutService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		products:   deps.Products,
		counters:   deps.Counters,
		unitOfWork: unit,
		settings:   settings,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return CheckoutResult{}, fmt.Errorf("%w: product id is required on every line", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return CheckoutResult{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrOrderInvalidInput, line.ProductID)
		}
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	items, total, err := s.buildItems(ctx, orderID, cmd.Lines)
	if err != nil {
		return CheckoutResult{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return CheckoutResult{}, err
	}

	order := Order{
		ID:          orderID,
		OrderNumber: number,
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: total,
		Status:      domain.OrderStatusPendingPayment,
		Notes:       strings.TrimSpace(cmd.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.settings.PaymentWindow),
	}

	payment := PaymentTransaction{
		ID:          paymentIDPrefix + s.newID(),
		OrderID:     orderID,
		ExternalRef: paymentRefPrefix + s.newID(),
		Amount:      total,
		Status:      domain.PaymentStatusPending,
		CreatedAt:   now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    customerID,
		Amount:        total,
		CurrentStatus: string(order.Status),
		ActorID:       customerID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"line_count": len(items),
		},
	})

	return CheckoutResult{
		Order: order,
		Instruction: PaymentInstruction{
			ExternalRef:   payment.ExternalRef,
			Amount:        total,
			PaymentMethod: defaultPaymentMethod,
			BankName:      s.settings.BankName,
			AccountNumber: s.settings.AccountNumber,
			Instructions:  fmt.Sprintf("Transfer %d and upload the receipt before %s using reference %s.", total, order.ExpiresAt.Format(time.RFC3339), payment.ExternalRef),
			ExpiresAt:     order.ExpiresAt,
		},
	}, nil
}

// buildItems freezes unit prices and runs the advisory admission check. The
// quantities read here are NOT authoritative; confirmation re-checks under lock.
func (s *checkoutService) buildItems(ctx context.Context, orderID string, lines []CartLine) ([]OrderItem, int64, error) {
	items := make([]OrderItem, 0, len(lines))
	var total int64
	var shortfalls []StockShortfall
	requested := make(map[string]int, len(lines))

	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, 0, fmt.Errorf("%w: product %s does not exist", ErrOrderInvalidInput, productID)
			}
			return nil, 0, mapRepositoryError(err)
		}
		if !product.Active {
			return nil, 0, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, productID)
		}

		requested[productID] += line.Quantity
		if requested[productID] > product.Stock {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: productID,
				Requested: requested[productID],
				Available: product.Stock,
			})
			continue
		}

		subtotal := product.UnitPrice * int64(line.Quantity)
		items = append(items, OrderItem{
			ID:        itemIDPrefix + s.newID(),
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  line.Quantity,
			UnitPrice: product.UnitPrice,
			Subtotal:  subtotal,
		})
		total += subtotal
	}

	if len(shortfalls) > 0 {
		return nil, 0, &InsufficientStockError{Shortfalls: shortfalls}
	}
	return items, total, nil
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return fmt.Sprintf("%s-%04d-%06d", s.settings.OrderNumberPrefix, now.Year(), seq), nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

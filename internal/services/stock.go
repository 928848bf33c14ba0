package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fajargold/storefront/internal/repositories"
)

var (
	// ErrInsufficientStock indicates at least one line exceeds the available quantity.
	ErrInsufficientStock = errors.New("stock: insufficient quantity")
	// ErrStockContention indicates a lock on a product row could not be acquired in time.
	// The operation had no effect and may be retried.
	ErrStockContention = errors.New("stock: contention, retry")
)

// StockShortfall describes one line that could not be satisfied.
type StockShortfall struct {
	ProductID string
	Requested int
	Available int
}

// InsufficientStockError carries per-line shortfall detail.
type InsufficientStockError struct {
	Shortfalls []StockShortfall
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("stock: insufficient quantity [%s]", strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// lineQuantities folds order lines into per-product totals.
func lineQuantities(items []OrderItem) map[string]int {
	quantities := make(map[string]int, len(items))
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
	}
	return quantities
}

// sortedProductIDs returns the distinct product ids in ascending order.
// Every caller locks in this order, which rules out lock cycles.
func sortedProductIDs(quantities map[string]int) []string {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lockAndVerify acquires every product lock in ascending id order and checks
// the held quantities against the requested ones. All locks are taken before
// any adjustment so backends that stage writes see a clean read phase.
func lockAndVerify(ctx context.Context, ledger repositories.StockLedger, quantities map[string]int) error {
	available := make(map[string]int, len(quantities))
	for _, productID := range sortedProductIDs(quantities) {
		current, err := ledger.LockAndRead(ctx, productID)
		if err != nil {
			return mapStockError(err)
		}
		available[productID] = current
	}

	var shortfalls []StockShortfall
	for _, productID := range sortedProductIDs(quantities) {
		if requested := quantities[productID]; requested > available[productID] {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: productID,
				Requested: requested,
				Available: available[productID],
			})
		}
	}
	if len(shortfalls) > 0 {
		return &InsufficientStockError{Shortfalls: shortfalls}
	}
	return nil
}

// lockAll acquires every product lock without quantity checks, for restores.
func lockAll(ctx context.Context, ledger repositories.StockLedger, quantities map[string]int) error {
	for _, productID := range sortedProductIDs(quantities) {
		if _, err := ledger.LockAndRead(ctx, productID); err != nil {
			return mapStockError(err)
		}
	}
	return nil
}

// adjustAll applies sign*quantity to every product. Callers hold the locks.
func adjustAll(ctx context.Context, ledger repositories.StockLedger, quantities map[string]int, sign int) error {
	for _, productID := range sortedProductIDs(quantities) {
		if err := ledger.Adjust(ctx, productID, sign*quantities[productID]); err != nil {
			return mapStockError(err)
		}
	}
	return nil
}

func mapStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorLockTimeout:
			return fmt.Errorf("%w: %v", ErrStockContention, err)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}
	return err
}

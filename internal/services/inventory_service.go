package services

import (
	"context"
	"errors"

	"github.com/fajargold/storefront/internal/repositories"
)

// InventoryServiceDeps bundles collaborators for the inventory read surface.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
}

type inventoryService struct {
	products repositories.ProductRepository
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	return &inventoryService{products: deps.Products}, nil
}

// LowStockReport lists products whose stock fell below their advisory
// threshold. The threshold never blocks deductions; it only feeds this report.
func (s *inventoryService) LowStockReport(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 50
	}
	products, err := s.products.ListLowStock(ctx, limit)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return products, nil
}

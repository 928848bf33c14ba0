package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/fajargold/storefront/internal/domain"
	pfirestore "github.com/fajargold/storefront/internal/platform/firestore"
)

const productsCollection = "products"

// stockDelta is stored denormalised because Firestore cannot compare two
// fields in a query; the stock ledger recomputes it on every adjustment.
type productDocument struct {
	Name       string    `firestore:"name"`
	Active     bool      `firestore:"active"`
	UnitPrice  int64     `firestore:"unitPrice"`
	Stock      int       `firestore:"stock"`
	MinStock   int       `firestore:"minStock"`
	StockDelta int       `firestore:"stockDelta"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Active:    d.Active,
		UnitPrice: d.UnitPrice,
		Stock:     d.Stock,
		MinStock:  d.MinStock,
		UpdatedAt: d.UpdatedAt,
	}
}

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, products: base}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	ref, err := r.products.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := txGet(ctx, ref)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *ProductRepository) ListLowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	query := client.Collection(productsCollection).
		Where("active", "==", true).
		Where("stockDelta", "<", 0).
		OrderBy("stockDelta", firestore.Asc).
		Limit(normalizeLimit(limit))

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("products.lowStock", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}
	return products, nil
}

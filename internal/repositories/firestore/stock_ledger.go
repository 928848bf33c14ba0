package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/fajargold/storefront/internal/platform/firestore"
	"github.com/fajargold/storefront/internal/repositories"
)

// StockLedger implements repositories.StockLedger on the products collection.
// Firestore transactions take a lock on every document read inside them and
// stage writes until commit, which gives LockAndRead its hold for free. All
// reads must precede the first write, so LockAndRead parks the read quantity
// in the transaction scratch space for Adjust to build its write from.
type StockLedger struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewStockLedger constructs a Firestore-backed stock ledger.
func NewStockLedger(provider *pfirestore.Provider) (*StockLedger, error) {
	if provider == nil {
		return nil, errors.New("stock ledger requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &StockLedger{provider: provider, products: base}, nil
}

type stockHold struct {
	doc productDocument
}

func scratchKey(productID string) string {
	return "stock:" + productID
}

func (l *StockLedger) LockAndRead(ctx context.Context, productID string) (int, error) {
	if l == nil || l.provider == nil {
		return 0, errors.New("stock ledger not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, "product id is required", nil)
	}

	tx, ok := pfirestore.TxFrom(ctx)
	if !ok {
		return 0, repositories.NewStockError(repositories.StockErrorNoTransaction, "stock lock requires an active transaction", nil)
	}
	scratch, ok := pfirestore.TxScratch(ctx)
	if !ok {
		return 0, repositories.NewStockError(repositories.StockErrorNoTransaction, "stock lock requires an active transaction", nil)
	}

	ref, err := l.products.DocumentRef(ctx, productID)
	if err != nil {
		return 0, err
	}

	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		if status.Code(err) == codes.Aborted || status.Code(err) == codes.DeadlineExceeded {
			return 0, repositories.NewStockError(repositories.StockErrorLockTimeout, fmt.Sprintf("lock on product %s not acquired", productID), err)
		}
		return 0, pfirestore.WrapError("stock.lock", err)
	}

	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("decode product %s: %w", productID, err)
	}

	scratch.Store(scratchKey(productID), &stockHold{doc: doc})
	return doc.Stock, nil
}

func (l *StockLedger) Adjust(ctx context.Context, productID string, delta int) error {
	if l == nil || l.provider == nil {
		return errors.New("stock ledger not initialised")
	}
	productID = strings.TrimSpace(productID)

	tx, ok := pfirestore.TxFrom(ctx)
	if !ok {
		return repositories.NewStockError(repositories.StockErrorNoTransaction, "stock adjust requires an active transaction", nil)
	}
	scratch, ok := pfirestore.TxScratch(ctx)
	if !ok {
		return repositories.NewStockError(repositories.StockErrorNoTransaction, "stock adjust requires an active transaction", nil)
	}

	held, ok := scratch.Load(scratchKey(productID))
	if !ok {
		return repositories.NewStockError(repositories.StockErrorNoTransaction, fmt.Sprintf("product %s was not locked in this transaction", productID), nil)
	}
	hold := held.(*stockHold)

	next := hold.doc.Stock + delta
	if next < 0 {
		return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("product %s stock cannot drop below zero", productID), nil)
	}

	hold.doc.Stock = next
	hold.doc.StockDelta = next - hold.doc.MinStock
	hold.doc.UpdatedAt = time.Now().UTC()

	ref, err := l.products.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if err := tx.Set(ref, hold.doc); err != nil {
		return pfirestore.WrapError("stock.adjust", err)
	}
	return nil
}

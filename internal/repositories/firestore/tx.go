package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/fajargold/storefront/internal/platform/firestore"
)

// Helpers that route operations through an active transaction when one is
// carried on the context, and fall straight to the client otherwise.

func txGet(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func txCreate(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func txSet(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

func txDelete(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}

func txDocuments(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fajargold/storefront/internal/domain"
	pfirestore "github.com/fajargold/storefront/internal/platform/firestore"
)

const paymentsCollection = "payments"

type paymentDocument struct {
	OrderID       string     `firestore:"orderId"`
	ExternalRef   string     `firestore:"externalRef"`
	Amount        int64      `firestore:"amount"`
	Status        string     `firestore:"status"`
	ProofAttached bool       `firestore:"proofAttached"`
	Notes         string     `firestore:"notes,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	CompletedAt   *time.Time `firestore:"completedAt,omitempty"`
}

func newPaymentDocument(payment domain.PaymentTransaction) paymentDocument {
	return paymentDocument{
		OrderID:       payment.OrderID,
		ExternalRef:   payment.ExternalRef,
		Amount:        payment.Amount,
		Status:        string(payment.Status),
		ProofAttached: payment.ProofAttached,
		Notes:         payment.Notes,
		CreatedAt:     payment.CreatedAt.UTC(),
		CompletedAt:   payment.CompletedAt,
	}
}

func (d paymentDocument) toDomain(id string) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:            id,
		OrderID:       d.OrderID,
		ExternalRef:   d.ExternalRef,
		Amount:        d.Amount,
		Status:        domain.PaymentStatus(d.Status),
		ProofAttached: d.ProofAttached,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.CompletedAt,
	}
}

// PaymentRepository implements repositories.PaymentRepository backed by Firestore.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection)
	return &PaymentRepository{provider: provider, payments: base}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.PaymentTransaction) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment insert: id is required")
	}
	ref, err := r.payments.DocumentRef(ctx, payment.ID)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, ref, newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.PaymentTransaction) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment update: id is required")
	}
	ref, err := r.payments.DocumentRef(ctx, payment.ID)
	if err != nil {
		return err
	}
	if err := txSet(ctx, ref, newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.update", err)
	}
	return nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	return r.findOne(ctx, "payments.findByOrder", "orderId", strings.TrimSpace(orderID))
}

func (r *PaymentRepository) FindByExternalRef(ctx context.Context, externalRef string) (domain.PaymentTransaction, error) {
	return r.findOne(ctx, "payments.findByRef", "externalRef", strings.TrimSpace(externalRef))
}

// DeleteByOrderID removes every payment record attached to the order. With an
// active transaction the lookup is a transactional read, so callers must not
// have staged writes yet.
func (r *PaymentRepository) DeleteByOrderID(ctx context.Context, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("payment delete: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	query := client.Collection(paymentsCollection).Where("orderId", "==", orderID)
	iter := txDocuments(ctx, query)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return pfirestore.WrapError("payments.deleteByOrder", err)
		}
		refs = append(refs, snap.Ref)
	}

	for _, ref := range refs {
		if err := txDelete(ctx, ref); err != nil {
			return pfirestore.WrapError("payments.deleteByOrder", err)
		}
	}
	return nil
}

func (r *PaymentRepository) findOne(ctx context.Context, op, field, value string) (domain.PaymentTransaction, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentTransaction{}, errors.New("payment repository not initialised")
	}
	if value == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%s: lookup value is required", op)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}

	query := client.Collection(paymentsCollection).Where(field, "==", value).Limit(1)
	iter := txDocuments(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.PaymentTransaction{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "payment with %s %q not found", field, value))
	}
	if err != nil {
		return domain.PaymentTransaction{}, pfirestore.WrapError(op, err)
	}

	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

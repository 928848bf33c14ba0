// Package memory provides an in-process implementation of the repository
// surfaces. It backs local development and the concurrency tests; semantics
// mirror the Firestore implementation, including per-product lock waits,
// all-or-nothing units of work, and the rule that transactional reads must
// precede any staged write.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/fajargold/storefront/internal/domain"
	"github.com/fajargold/storefront/internal/repositories"
)

const defaultLockWait = 5 * time.Second

// Store holds every collection behind a single mutex. Product locks are
// separate bounded-wait semaphores so concurrent units contend per product,
// not store-wide.
type Store struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	payments map[string]domain.PaymentTransaction
	products map[string]domain.Product
	counters map[string]int64

	lockMu   sync.Mutex
	locks    map[string]chan struct{}
	lockWait time.Duration
}

// Option customises store behaviour.
type Option func(*Store)

// WithLockWait bounds how long a unit waits for a product lock before the
// operation fails as retryable contention.
func WithLockWait(wait time.Duration) Option {
	return func(s *Store) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.PaymentTransaction),
		products: make(map[string]domain.Product),
		counters: make(map[string]int64),
		locks:    make(map[string]chan struct{}),
		lockWait: defaultLockWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SeedProduct installs or replaces a product outside any unit of work.
func (s *Store) SeedProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// ProductStock reads the committed stock level, for assertions.
func (s *Store) ProductStock(productID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[productID]
	return product.Stock, ok
}

type sessionKey struct{}

// session is the journal of one unit of work. Mutations stage here and apply
// to the store only when the unit commits.
type session struct {
	store *Store

	orderWrites    map[string]domain.Order
	orderDeletes   map[string]struct{}
	paymentWrites  map[string]domain.PaymentTransaction
	paymentDeletes map[string]struct{}

	heldLocks   []string
	lockHeld    map[string]struct{}
	stockDeltas map[string]int

	wrote   bool
	readErr error
}

// noteWrite records that the session has staged a write. Reads are only
// legal before the first write, matching the backend's transaction rule.
func (sess *session) noteWrite() { sess.wrote = true }

// guardRead fails any read that arrives after a staged write. The error is
// latched so the unit aborts at commit even if the caller swallows it.
func (sess *session) guardRead(op string) error {
	if !sess.wrote {
		return nil
	}
	err := &repoError{op: op, msg: "read after write in transaction"}
	if sess.readErr == nil {
		sess.readErr = err
	}
	return err
}

func newSession(s *Store) *session {
	return &session{
		store:          s,
		orderWrites:    make(map[string]domain.Order),
		orderDeletes:   make(map[string]struct{}),
		paymentWrites:  make(map[string]domain.PaymentTransaction),
		paymentDeletes: make(map[string]struct{}),
		lockHeld:       make(map[string]struct{}),
		stockDeltas:    make(map[string]int),
	}
}

func sessionFrom(ctx context.Context) (*session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*session)
	return sess, ok && sess != nil
}

// RunInTx implements repositories.UnitOfWork. Nested units reuse the
// enclosing session.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := sessionFrom(ctx); ok {
		return fn(ctx)
	}

	sess := newSession(s)
	defer sess.releaseLocks()

	err := fn(context.WithValue(ctx, sessionKey{}, sess))
	if err == nil {
		err = sess.readErr
	}
	if err != nil {
		return err
	}
	sess.commit()
	return nil
}

func (sess *session) commit() {
	s := sess.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, order := range sess.orderWrites {
		s.orders[id] = order
	}
	for id := range sess.orderDeletes {
		delete(s.orders, id)
	}
	for id, payment := range sess.paymentWrites {
		s.payments[id] = payment
	}
	for id := range sess.paymentDeletes {
		delete(s.payments, id)
	}
	for productID, delta := range sess.stockDeltas {
		product := s.products[productID]
		product.Stock += delta
		product.UpdatedAt = time.Now().UTC()
		s.products[productID] = product
	}
}

func (sess *session) releaseLocks() {
	for _, productID := range sess.heldLocks {
		<-sess.store.lockChan(productID)
	}
	sess.heldLocks = nil
	sess.lockHeld = make(map[string]struct{})
}

func (s *Store) lockChan(productID string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[productID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[productID] = ch
	}
	return ch
}

// LockAndRead implements repositories.StockLedger. The lock is held until the
// enclosing unit commits or aborts; a second lock on the same product within
// one unit is a no-op.
func (s *Store) LockAndRead(ctx context.Context, productID string) (int, error) {
	sess, ok := sessionFrom(ctx)
	if !ok {
		return 0, repositories.NewStockError(repositories.StockErrorNoTransaction, "stock lock requires an active transaction", nil)
	}
	if err := sess.guardRead("stock.lock"); err != nil {
		return 0, err
	}

	if _, held := sess.lockHeld[productID]; !held {
		ch := s.lockChan(productID)
		timer := time.NewTimer(s.lockWait)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
			sess.heldLocks = append(sess.heldLocks, productID)
			sess.lockHeld[productID] = struct{}{}
		case <-timer.C:
			return 0, repositories.NewStockError(repositories.StockErrorLockTimeout, fmt.Sprintf("lock on product %s not acquired within %s", productID, s.lockWait), nil)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.RLock()
	product, exists := s.products[productID]
	s.mu.RUnlock()
	if !exists {
		return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}
	return product.Stock, nil
}

// Adjust implements repositories.StockLedger. Deltas stage in the session and
// apply on commit; a result below zero fails the whole unit.
func (s *Store) Adjust(ctx context.Context, productID string, delta int) error {
	sess, ok := sessionFrom(ctx)
	if !ok {
		return repositories.NewStockError(repositories.StockErrorNoTransaction, "stock adjust requires an active transaction", nil)
	}
	if _, held := sess.lockHeld[productID]; !held {
		return repositories.NewStockError(repositories.StockErrorNoTransaction, fmt.Sprintf("product %s was not locked in this transaction", productID), nil)
	}

	s.mu.RLock()
	product, exists := s.products[productID]
	s.mu.RUnlock()
	if !exists {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}

	next := product.Stock + sess.stockDeltas[productID] + delta
	if next < 0 {
		return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("product %s stock cannot drop below zero", productID), nil)
	}
	sess.stockDeltas[productID] += delta
	sess.noteWrite()
	return nil
}

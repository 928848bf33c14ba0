package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fajargold/storefront/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func postCheckout(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(payload, &body))
	return body.Error
}

func TestMiddlewareRequiresKeyHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handlerCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	})

	rr := httptest.NewRecorder()
	middleware(next).ServeHTTP(rr, postCheckout(`{"items":[]}`))

	assert.False(t, handlerCalled)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "idempotency_key_required", decodeErrorCode(t, rr.Body.Bytes()))
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	var calls int
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"id":"ord_1"}}`))
	}))

	first := postCheckout(`{"items":[{"product_id":"prod-a","quantity":2}]}`)
	first.Header.Set("Idempotency-Key", "abc-123")
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, first)

	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusCreated, rr1.Code)

	second := postCheckout(`{"items":[{"product_id":"prod-a","quantity":2}]}`)
	second.Header.Set("Idempotency-Key", "abc-123")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, second)

	assert.Equal(t, 1, calls, "replay should not reach the handler")
	assert.Equal(t, http.StatusCreated, rr2.Code)
	assert.Equal(t, "true", rr2.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", rr2.Header().Get("Content-Type"))
	assert.Equal(t, rr1.Body.String(), rr2.Body.String())
}

func TestMiddlewareScopesKeysPerCustomer(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	var calls int
	handler := auth.RequireGatewayAuth()(middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})))

	for _, uid := range []string{"cust-1", "cust-2"} {
		req := postCheckout(`{"items":[{"product_id":"prod-a","quantity":1}]}`)
		req.Header.Set("Idempotency-Key", "shared-key")
		req.Header.Set(auth.HeaderUserID, uid)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	assert.Equal(t, 2, calls, "distinct customers must not share idempotency records")
}

func TestMiddlewareRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := postCheckout(`{"items":[{"product_id":"prod-a","quantity":1}]}`)
	first.Header.Set("Idempotency-Key", "same-key")
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, first)
	require.Equal(t, http.StatusOK, rr1.Code)

	second := postCheckout(`{"items":[{"product_id":"prod-b","quantity":9}]}`)
	second.Header.Set("Idempotency-Key", "same-key")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, second)

	assert.Equal(t, http.StatusConflict, rr2.Code)
	assert.Equal(t, "idempotency_key_conflict", decodeErrorCode(t, rr2.Body.Bytes()))
}

func TestMiddlewareReportsInFlightClaims(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the claim is held")
	}))

	req := postCheckout(`{"items":[]}`)
	req.Header.Set("Idempotency-Key", "pending-key")

	body, err := readAndReplayBody(req)
	require.NoError(t, err)
	requester := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, body, requester)
	_, err = store.Reserve(req.Context(), scopedKey("pending-key", requester), fingerprint, fixedTime, time.Hour)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_in_progress", decodeErrorCode(t, rr.Body.Bytes()))
}

func TestMiddlewareReleasesClaimWhenSaveFails(t *testing.T) {
	store := &stubStore{failSave: true}
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	req := postCheckout(`{"items":[]}`)
	req.Header.Set("Idempotency-Key", "fail-key")

	rr := httptest.NewRecorder()
	middleware(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "idempotency_store_error", decodeErrorCode(t, rr.Body.Bytes()))
	assert.True(t, store.released)
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Reserve(ctx, "short", "fp-1", fixedTime, time.Minute)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "long", "fp-2", fixedTime, time.Hour)
	require.NoError(t, err)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	claim, err := store.Reserve(ctx, "long", "fp-2", fixedTime.Add(30*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ClaimStateInFlight, claim.State)
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{State: ClaimStateFresh}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

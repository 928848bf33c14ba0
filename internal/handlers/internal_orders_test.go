package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireOrdersUsesDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	var capturedNow time.Time
	var capturedLimit int
	svc := &stubOrderService{
		expireFn: func(_ context.Context, at time.Time, limit int) (int, error) {
			capturedNow = at
			capturedLimit = limit
			return 3, nil
		},
	}

	r := chi.NewRouter()
	r.Route("/internal", NewInternalOrderHandlers(svc, func() time.Time { return now }).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/expire", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, now, capturedNow)
	assert.Equal(t, defaultExpiryBatchSize, capturedLimit)

	var resp expireOrdersResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Expired)
}

func TestExpireOrdersHonoursLimit(t *testing.T) {
	svc := &stubOrderService{
		expireFn: func(_ context.Context, _ time.Time, limit int) (int, error) {
			assert.Equal(t, 25, limit)
			return 0, nil
		},
	}

	r := chi.NewRouter()
	r.Route("/internal", NewInternalOrderHandlers(svc, nil).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/expire", strings.NewReader(`{"limit":25}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

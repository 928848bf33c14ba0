package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fajargold/storefront/internal/platform/httpx"
	"github.com/fajargold/storefront/internal/services"
)

const (
	maxInternalBodySize    = 4 * 1024
	defaultExpiryBatchSize = 100
)

type expireOrdersRequest struct {
	Limit int `json:"limit"`
}

type expireOrdersResponse struct {
	Expired int `json:"expired"`
}

// InternalOrderHandlers exposes maintenance endpoints invoked by the scheduler,
// guarded by the internal middlewares configured on the router.
type InternalOrderHandlers struct {
	orders services.OrderService
	clock  func() time.Time
}

// NewInternalOrderHandlers constructs a new InternalOrderHandlers instance.
func NewInternalOrderHandlers(orders services.OrderService, clock func() time.Time) *InternalOrderHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalOrderHandlers{orders: orders, clock: clock}
}

// Routes registers the /internal endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/expire", h.expireOrders)
}

func (h *InternalOrderHandlers) expireOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expireOrdersRequest
	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request body", http.StatusBadRequest))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultExpiryBatchSize
	}

	expired, err := h.orders.ExpireOverdue(ctx, h.clock().UTC(), req.Limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, expireOrdersResponse{Expired: expired})
}

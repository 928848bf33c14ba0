package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fajargold/storefront/internal/platform/auth"
	"github.com/fajargold/storefront/internal/platform/httpx"
	"github.com/fajargold/storefront/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

type checkoutRequest struct {
	Items []checkoutItemRequest `json:"items"`
	Notes string                `json:"notes"`
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutResponse struct {
	Order   orderPayload              `json:"order"`
	Payment paymentInstructionPayload `json:"payment"`
}

type paymentInstructionPayload struct {
	ExternalRef   string `json:"external_ref"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Instructions  string `json:"instructions"`
	ExpiresAt     string `json:"expires_at"`
}

// CheckoutHandlers exposes the order admission endpoint for authenticated customers.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit throttles order creation per customer.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newWindowLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireGatewayAuth())
	r.Post("/", h.createOrder)
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	result, err := h.checkout.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID: strings.TrimSpace(identity.UID),
		Lines:      lines,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := checkoutResponse{
		Order: buildOrderPayload(result.Order),
		Payment: paymentInstructionPayload{
			ExternalRef:   result.Instruction.ExternalRef,
			Amount:        result.Instruction.Amount,
			PaymentMethod: result.Instruction.PaymentMethod,
			BankName:      result.Instruction.BankName,
			AccountNumber: result.Instruction.AccountNumber,
			Instructions:  result.Instruction.Instructions,
			ExpiresAt:     formatTime(result.Instruction.ExpiresAt),
		},
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

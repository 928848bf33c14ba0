package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fajargold/storefront/internal/platform/httpx"
	"github.com/fajargold/storefront/internal/services"
)

const defaultRequestBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultRequestBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	Status      string             `json:"status"`
	Items       []orderItemPayload `json:"items"`
	Total       int64              `json:"total"`
	Notes       string             `json:"notes,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
	ExpiresAt   string             `json:"expires_at,omitempty"`
	PaidAt      string             `json:"paid_at,omitempty"`
	ShippedAt   string             `json:"shipped_at,omitempty"`
	DeliveredAt string             `json:"delivered_at,omitempty"`
	CancelledAt string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Total:       order.TotalAmount,
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
		ExpiresAt:   formatTime(order.ExpiresAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:        strings.TrimSpace(item.ID),
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		Status:      strings.TrimSpace(string(order.Status)),
		Items:       items,
		Total:       order.TotalAmount,
		Notes:       strings.TrimSpace(order.Notes),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ExpiresAt:   formatTime(order.ExpiresAt),
		PaidAt:      formatTime(pointerTime(order.PaidAt)),
		ShippedAt:   formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt: formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt: formatTime(pointerTime(order.CancelledAt)),
	}
}

type stockShortfallPayload struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func buildShortfallDetails(err error) map[string]any {
	var insufficient *services.InsufficientStockError
	if !errors.As(err, &insufficient) {
		return nil
	}
	shortfalls := make([]stockShortfallPayload, 0, len(insufficient.Shortfalls))
	for _, s := range insufficient.Shortfalls {
		shortfalls = append(shortfalls, stockShortfallPayload{
			ProductID: s.ProductID,
			Requested: s.Requested,
			Available: s.Available,
		})
	}
	return map[string]any{"shortfalls": shortfalls}
}

// writeOrderError maps order service failures onto the shared error envelope.
// Stock contention is surfaced as retryable so clients can resubmit the action.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order does not belong to caller", http.StatusForbidden))
	case errors.Is(err, services.ErrInsufficientStock):
		e := httpx.NewError("insufficient_stock", "requested quantity exceeds available stock", http.StatusConflict)
		if details := buildShortfallDetails(err); details != nil {
			e = e.WithDetails(details)
		}
		httpx.WriteError(ctx, w, e)
	case errors.Is(err, services.ErrStockContention):
		httpx.WriteError(ctx, w, httpx.NewError("stock_contention", "stock is locked by a concurrent operation, retry", http.StatusConflict).WithDetails(map[string]any{"retryable": true}))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fajargold/storefront/internal/domain"
	"github.com/fajargold/storefront/internal/platform/auth"
	"github.com/fajargold/storefront/internal/platform/httpx"
	"github.com/fajargold/storefront/internal/services"
)

const (
	defaultAdminPageSize    = 50
	maxAdminPageSize        = 200
	maxAdminActionBodySize  = 8 * 1024
	defaultLowStockPageSize = 50
)

type confirmPaymentRequest struct {
	Notes string `json:"notes"`
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type refundOrderRequest struct {
	Reason string `json:"reason"`
}

type orderStatisticsPayload struct {
	Total               int64 `json:"total"`
	PendingPayment      int64 `json:"pending_payment"`
	PendingConfirmation int64 `json:"pending_confirmation"`
	Paid                int64 `json:"paid"`
	Processing          int64 `json:"processing"`
	Shipped             int64 `json:"shipped"`
	Delivered           int64 `json:"delivered"`
	Cancelled           int64 `json:"cancelled"`
	Refunded            int64 `json:"refunded"`
}

type lowStockResponse struct {
	Items []lowStockProductPayload `json:"items"`
}

type lowStockProductPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// AdminOrderHandlers exposes the order back office for staff and admins.
type AdminOrderHandlers struct {
	orders    services.OrderService
	inventory services.InventoryService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(orders services.OrderService, inventory services.InventoryService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders, inventory: inventory}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireGatewayAuth(auth.RoleAdmin, auth.RoleStaff))
	r.Get("/orders", h.listOrders)
	r.Get("/orders/stats", h.orderStatistics)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/confirm", h.confirmPayment)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Post("/orders/{orderID}/process", h.startProcessing)
	r.Post("/orders/{orderID}/ship", h.shipOrder)
	r.Post("/orders/{orderID}/deliver", h.markDelivered)
	r.Post("/orders/{orderID}/refund", h.refundOrder)
	r.Delete("/orders/{orderID}", h.purgeOrder)
	r.Get("/inventory/low-stock", h.lowStock)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToUpper(raw))
		if !domain.KnownOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		filter.Status = status
	}
	limit, err := parseLimitParam(r, defaultAdminPageSize, maxAdminPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}
	filter.Limit = limit

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *AdminOrderHandlers) orderStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.orders.Statistics(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderStatisticsPayload{
		Total:               stats.Total,
		PendingPayment:      stats.PendingPayment,
		PendingConfirmation: stats.PendingConfirmation,
		Paid:                stats.Paid,
		Processing:          stats.Processing,
		Shipped:             stats.Shipped,
		Delivered:           stats.Delivered,
		Cancelled:           stats.Cancelled,
		Refunded:            stats.Refunded,
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID: orderID,
		AdminID: strings.TrimSpace(identity.UID),
		Notes:   strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		AsAdmin: true,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) startProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.StartProcessing(ctx, services.OrderActionCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	var req shipOrderRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ShipOrder(ctx, services.ShipOrderCommand{
		OrderID:        orderID,
		ActorID:        strings.TrimSpace(identity.UID),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.MarkDelivered(ctx, services.OrderActionCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	var req refundOrderRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.RefundOrder(ctx, services.RefundOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) purgeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireAction(w, r)
	if !ok {
		return
	}

	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "only admins may purge orders", http.StatusForbidden))
		return
	}

	if err := h.orders.PurgeOrder(ctx, services.PurgeOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminOrderHandlers) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit, err := parseLimitParam(r, defaultLowStockPageSize, maxAdminPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}

	products, err := h.inventory.LowStockReport(ctx, limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to build low stock report", http.StatusInternalServerError))
		return
	}

	items := make([]lowStockProductPayload, 0, len(products))
	for _, product := range products {
		items = append(items, lowStockProductPayload{
			ID:        strings.TrimSpace(product.ID),
			Name:      strings.TrimSpace(product.Name),
			Stock:     product.Stock,
			MinStock:  product.MinStock,
			UpdatedAt: formatTime(product.UpdatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, lowStockResponse{Items: items})
}

// requireAction validates the shared preconditions of every admin order action.
func (h *AdminOrderHandlers) requireAction(w http.ResponseWriter, r *http.Request) (*auth.Identity, string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, "", false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, "", false
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return nil, "", false
	}
	return identity, orderID, true
}

// decodeOptionalBody parses an optional JSON body into dst. A missing body is fine.
func decodeOptionalBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxAdminActionBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

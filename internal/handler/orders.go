package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/service"
)

type createOrderRequest struct {
	Type          string           `json:"type"`
	TariffID      int64            `json:"tariffId"`
	Weight        decimal.Decimal  `json:"weight"`
	Length        *decimal.Decimal `json:"length,omitempty"`
	Width         *decimal.Decimal `json:"width,omitempty"`
	Height        *decimal.Decimal `json:"height,omitempty"`
	DeclaredValue decimal.Decimal  `json:"declaredValue"`
	Currency      string           `json:"currency,omitempty"`
}

type orderResponse struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	TrackNumber string          `json:"trackNumber"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
	PaidAt      *string         `json:"paidAt,omitempty"`
	CreatedAt   string          `json:"createdAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		Type:        string(o.Type),
		Status:      string(o.Status),
		TrackNumber: o.TrackNumber,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		paidAt := o.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &paidAt
	}
	return resp
}

// CreateOrder создаёт заказ по выбранному тарифу для текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	orderType := model.OrderTypeShipping
	if req.Type != "" {
		orderType = model.OrderType(req.Type)
		if orderType != model.OrderTypeShipping && orderType != model.OrderTypePurchase {
			h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown order type")
			return
		}
	}

	var dims *calculator.Dimensions
	if req.Length != nil && req.Width != nil && req.Height != nil {
		dims = &calculator.Dimensions{Length: *req.Length, Width: *req.Width, Height: *req.Height}
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderRequest{
		UserID:        userID,
		Type:          orderType,
		TariffID:      req.TariffID,
		Weight:        req.Weight,
		Dimensions:    dims,
		DeclaredValue: req.DeclaredValue,
		Currency:      req.Currency,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ текущего пользователя по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.service.GetOrderByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// TrackOrder возвращает заказ по трек-номеру без аутентификации.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrderByTrack(r.Context(), chi.URLParam(r, "track"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type historyEntryResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ChangedBy string `json:"changedBy"`
	CreatedAt string `json:"createdAt"`
}

// GetOrderHistory возвращает историю статусов заказа текущего пользователя.
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.service.GetOrderByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}

	history, err := h.service.GetOrderHistory(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]historyEntryResponse, 0, len(history))
	for _, e := range history {
		resp = append(resp, historyEntryResponse{
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			ChangedBy: e.ChangedBy,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.service.GetOrderByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}

	var req cancelOrderRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.CancelOrder(r.Context(), id, req.Reason, strconv.FormatInt(userID, 10)); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

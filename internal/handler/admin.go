package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avoronin/cargoflow/internal/model"
)

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус. Только для администраторов.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if err := h.service.UpdateOrderStatus(r.Context(), id, model.OrderStatus(req.Status), strconv.FormatInt(adminID, 10)); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type bulkStatusRequest struct {
	OrderIDs []int64 `json:"orderIds"`
	Status   string  `json:"status"`
}

// BulkUpdateOrderStatus переводит группу заказов в новый статус за одну
// атомарную операцию. Только для администраторов.
func (h *Handler) BulkUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	var req bulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if len(req.OrderIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "orderIds is required")
		return
	}

	if err := h.service.BulkUpdateOrderStatus(r.Context(), req.OrderIDs, model.OrderStatus(req.Status), adminID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type banRequest struct {
	Banned bool   `json:"banned"`
	Reason string `json:"reason,omitempty"`
}

// SetUserBanned блокирует или разблокирует пользователя. Только для администраторов.
func (h *Handler) SetUserBanned(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid user id")
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if err := h.service.SetUserBanned(r.Context(), userID, req.Banned, adminID, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Package handler содержит HTTP-обработчики API сервиса cargoflow.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/middleware"
	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
	"github.com/avoronin/cargoflow/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)

	QuoteShipping(ctx context.Context, countryID int64, weight decimal.Decimal, dims *calculator.Dimensions, declaredValue decimal.Decimal) (*calculator.Quote, error)
	ListTariffs(ctx context.Context, countryID int64) ([]model.Tariff, error)
	CreateTariff(ctx context.Context, t *model.Tariff) (int64, error)
	UpdateTariff(ctx context.Context, t *model.Tariff) error
	DeactivateTariff(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByTrack(ctx context.Context, track string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistory, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, to model.OrderStatus, changedBy string) error
	CancelOrder(ctx context.Context, orderID int64, reason, changedBy string) error
	BulkUpdateOrderStatus(ctx context.Context, orderIDs []int64, to model.OrderStatus, adminID int64) error
	SetUserBanned(ctx context.Context, userID int64, banned bool, adminID int64, reason string) error

	CreatePayment(ctx context.Context, req service.CreatePaymentRequest) (*service.PaymentResult, error)
	HandleWebhook(ctx context.Context, method model.PaymentMethod, payload []byte, signature string) (*model.Transaction, error)
	RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal, reason string) (*model.Transaction, error)
}

// Handler реализует HTTP-обработчики API сервиса cargoflow.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeServiceError транслирует ошибку бизнес-логики в стабильный код API.
// Ошибки валидации и отсутствия — 4xx, конфликты состояния — 409, нехватка
// средств — 400, сбои провайдеров — 502, всё прочее — 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoTariffAvailable):
		h.writeError(w, http.StatusNotFound, "NO_TARIFF_AVAILABLE", "no shipping options for this route and weight")
	case errors.Is(err, repository.ErrTariffNotFound):
		h.writeError(w, http.StatusNotFound, "TARIFF_NOT_FOUND", "tariff not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	case errors.Is(err, repository.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	case errors.Is(err, repository.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	case errors.Is(err, service.ErrOrderNotPending):
		h.writeError(w, http.StatusConflict, "ORDER_NOT_PENDING", "order is not awaiting payment")
	case errors.Is(err, repository.ErrTransactionProcessed):
		h.writeError(w, http.StatusConflict, "TRANSACTION_ALREADY_PROCESSED", "transaction already processed")
	case errors.Is(err, service.ErrTransactionNotSuccessful):
		h.writeError(w, http.StatusConflict, "TRANSACTION_NOT_SUCCESSFUL", "only successful transactions can be refunded")
	case errors.Is(err, repository.ErrOrderStateConflict):
		h.writeError(w, http.StatusConflict, "ORDER_STATE_CONFLICT", "order status transition is not allowed")
	case errors.Is(err, repository.ErrInsufficientBalance):
		h.writeError(w, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, repository.ErrInsufficientBonus):
		h.writeError(w, http.StatusBadRequest, "INSUFFICIENT_BONUS_BALANCE", "insufficient bonus balance")
	case errors.Is(err, service.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "invalid amount")
	case errors.Is(err, service.ErrInvalidTrackNumber):
		h.writeError(w, http.StatusUnprocessableEntity, "INVALID_TRACK_NUMBER", "invalid track number format")
	case errors.Is(err, service.ErrUserBanned):
		h.writeError(w, http.StatusForbidden, "USER_BANNED", "user is banned")
	case errors.Is(err, payment.ErrUnsupportedMethod):
		h.writeError(w, http.StatusBadRequest, "UNSUPPORTED_METHOD", "unsupported payment method")
	case errors.Is(err, payment.ErrProviderFailure):
		h.logger.Error("payment provider failure", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "PROVIDER_ERROR", "payment provider is unavailable")
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func (h *Handler) userFromContext(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return 0, false
	}
	return userID, true
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "login and password are required")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			h.writeError(w, http.StatusConflict, "USER_EXISTS", "login is already taken")
			return
		}
		h.writeServiceError(w, err)
		return
	}

	token, err := h.authMiddleware.SetAuthCookie(w, userID, false)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: token})
}

// Login выполняет аутентификацию пользователя и выпускает токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "login and password are required")
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid login or password")
			return
		}
		h.writeServiceError(w, err)
		return
	}

	token, err := h.authMiddleware.SetAuthCookie(w, user.ID, user.IsAdmin)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: token})
}

type balanceResponse struct {
	Balance      decimal.Decimal `json:"balance"`
	BonusBalance decimal.Decimal `json:"bonus_balance"`
}

// GetBalance возвращает баланс и бонусный баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		Balance:      user.Balance,
		BonusBalance: user.BonusBalance,
	})
}

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
	"github.com/avoronin/cargoflow/internal/service"
)

type createPaymentRequest struct {
	OrderID     *int64            `json:"orderId,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Method      string            `json:"method"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type transactionResponse struct {
	ID          string          `json:"id"`
	OrderID     *int64          `json:"orderId,omitempty"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	ExternalID  *string         `json:"externalId,omitempty"`
	ProcessedAt *string         `json:"processedAt,omitempty"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:         t.ID,
		OrderID:    t.OrderID,
		Type:       string(t.Type),
		Amount:     t.Amount,
		Currency:   t.Currency,
		Method:     string(t.Method),
		Status:     string(t.Status),
		ExternalID: t.ExternalID,
	}
	if t.ProcessedAt != nil {
		at := t.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &at
	}
	return resp
}

type createPaymentResponse struct {
	Transaction transactionResponse `json:"transaction"`
	RedirectURL string              `json:"redirectUrl,omitempty"`
	Address     string              `json:"address,omitempty"`
	QR          string              `json:"qr,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// CreatePayment создаёт платёж для текущего пользователя.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromContext(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	method, ok := model.ParsePaymentMethod(req.Method)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "UNSUPPORTED_METHOD", "unsupported payment method")
		return
	}

	result, err := h.service.CreatePayment(r.Context(), service.CreatePaymentRequest{
		UserID:      userID,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      method,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createPaymentResponse{
		Transaction: toTransactionResponse(result.Transaction),
		RedirectURL: result.RedirectURL,
		Address:     result.Address,
		QR:          result.QR,
		Message:     result.Message,
	})
}

var webhookProviders = map[string]model.PaymentMethod{
	"stripe": model.PaymentMethodCard,
	"crypto": model.PaymentMethodCrypto,
	"sbp":    model.PaymentMethodSBP,
}

var webhookSignatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"crypto": "X-Signature",
	"sbp":    "X-Signature",
}

// Webhook принимает и проверяет событие платёжного провайдера. Повторная
// доставка уже обработанного события подтверждается ответом 200, чтобы провайдер
// прекратил ретраи.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	method, ok := webhookProviders[providerName]
	if !ok {
		h.writeError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unreadable request body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(webhookSignatureHeaders[providerName])

	tx, err := h.service.HandleWebhook(r.Context(), method, payload, signature)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"transaction_id": tx.ID, "status": string(tx.Status)})
	case errors.Is(err, payment.ErrEventIgnored), errors.Is(err, repository.ErrTransactionProcessed):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payment.ErrInvalidSignature):
		h.writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature verification failed")
	default:
		h.writeServiceError(w, err)
	}
}

type refundRequest struct {
	TransactionID string           `json:"transactionId"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Refund выполняет возврат по транзакции. Только для администраторов.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "transactionId is required")
		return
	}

	refund, err := h.service.RefundPayment(r.Context(), req.TransactionID, req.Amount, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toTransactionResponse(refund))
}

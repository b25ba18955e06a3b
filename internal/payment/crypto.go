package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

// CryptoProvider принимает платежи в криптовалюте через внешний инвойс-шлюз:
// шлюз выделяет депозитный адрес, подтверждение поступает вебхуком.
type CryptoProvider struct {
	baseURL       string
	apiKey        string
	webhookSecret []byte
	httpClient    *http.Client
}

// NewCryptoProvider создаёт клиента инвойс-шлюза по указанному адресу.
func NewCryptoProvider(baseURL, apiKey, webhookSecret string) *CryptoProvider {
	return &CryptoProvider{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: []byte(webhookSecret),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type cryptoInvoiceRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type cryptoInvoiceResponse struct {
	InvoiceID  string `json:"invoice_id"`
	Address    string `json:"address"`
	PaymentURI string `json:"payment_uri"`
}

// CreatePayment запрашивает у шлюза депозитный адрес и платёжный код для транзакции.
func (p *CryptoProvider) CreatePayment(ctx context.Context, req Request) (*Intent, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("crypto gateway not configured")
	}

	body, err := json.Marshal(cryptoInvoiceRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount.String(),
		Currency:      req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	url := p.baseURL + "/api/invoices"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("crypto gateway: unexpected status %d", resp.StatusCode)
	}

	var invoice cryptoInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}

	return &Intent{
		ExternalID: invoice.InvoiceID,
		Address:    invoice.Address,
		QR:         invoice.PaymentURI,
		Status:     model.TransactionStatusPending,
	}, nil
}

// RefundPayment для криптоплатежей автоматического пути возврата не имеет:
// возврат остаётся в PROCESSING до ручной обработки оператором.
func (p *CryptoProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	return &RefundResult{
		ExternalID: externalID,
		Status:     model.TransactionStatusProcessing,
		Message:    "manual refund required",
	}, nil
}

type cryptoWebhookPayload struct {
	InvoiceID     string `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ProcessedAt   int64  `json:"processed_at"`
}

// VerifyWebhook проверяет HMAC-подпись тела вебхука и разбирает событие шлюза.
func (p *CryptoProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if !verifyHMAC(p.webhookSecret, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event cryptoWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var status model.TransactionStatus
	switch event.Status {
	case "paid":
		status = model.TransactionStatusSuccess
	case "failed", "expired":
		status = model.TransactionStatusFailed
	default:
		return nil, ErrEventIgnored
	}

	processedAt := time.Now().UTC()
	if event.ProcessedAt > 0 {
		processedAt = time.Unix(event.ProcessedAt, 0).UTC()
	}

	return &WebhookEvent{
		TransactionID: event.TransactionID,
		ExternalID:    event.InvoiceID,
		Status:        status,
		ProcessedAt:   processedAt,
		Metadata:      map[string]string{"gateway_status": event.Status},
	}, nil
}

func verifyHMAC(secret, payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload подписывает тело вебхука. Используется в тестах и утилитах.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

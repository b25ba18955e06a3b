package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

// SBPProvider формирует платёжные QR-ссылки системы быстрых платежей.
// Подтверждение оплаты поступает вебхуком от банка-эквайера.
type SBPProvider struct {
	qrBaseURL     string
	merchantID    string
	webhookSecret []byte
}

// NewSBPProvider создаёт провайдера СБП.
func NewSBPProvider(qrBaseURL, merchantID, webhookSecret string) *SBPProvider {
	if qrBaseURL == "" {
		qrBaseURL = "https://qr.nspk.ru"
	}
	return &SBPProvider{
		qrBaseURL:     strings.TrimRight(qrBaseURL, "/"),
		merchantID:    merchantID,
		webhookSecret: []byte(webhookSecret),
	}
}

// CreatePayment формирует QR-ссылку на оплату. Транзакция остаётся в PENDING
// до подтверждения вебхуком.
func (p *SBPProvider) CreatePayment(ctx context.Context, req Request) (*Intent, error) {
	qrcID := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	q := url.Values{}
	q.Set("type", "02")
	q.Set("sum", req.Amount.StringFixed(2))
	q.Set("cur", req.Currency)
	q.Set("mid", p.merchantID)

	link := fmt.Sprintf("%s/%s?%s", p.qrBaseURL, qrcID, q.Encode())

	return &Intent{
		ExternalID: qrcID,
		QR:         link,
		Status:     model.TransactionStatusPending,
	}, nil
}

// RefundPayment для СБП автоматического пути возврата не имеет: возврат остаётся
// в PROCESSING до ручной обработки оператором.
func (p *SBPProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	return &RefundResult{
		ExternalID: externalID,
		Status:     model.TransactionStatusProcessing,
		Message:    "manual refund required",
	}, nil
}

type sbpWebhookPayload struct {
	QRCID         string `json:"qrc_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ProcessedAt   int64  `json:"processed_at"`
}

// VerifyWebhook проверяет HMAC-подпись вебхука банка и разбирает событие.
func (p *SBPProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if !verifyHMAC(p.webhookSecret, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event sbpWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var status model.TransactionStatus
	switch event.Status {
	case "ACCEPTED":
		status = model.TransactionStatusSuccess
	case "REJECTED":
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
		ExternalID:    event.QRCID,
		Status:        status,
		ProcessedAt:   processedAt,
		Metadata:      map[string]string{"sbp_status": event.Status},
	}, nil
}

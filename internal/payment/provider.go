// Package payment содержит адаптеры платёжных провайдеров.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

// ErrUnsupportedMethod возвращается, когда для способа оплаты не зарегистрирован провайдер.
var ErrUnsupportedMethod = errors.New("payment: unsupported method")

// ErrEventIgnored возвращается из VerifyWebhook для событий, которые провайдер
// присылает, но которые не влияют на состояние транзакции.
var ErrEventIgnored = errors.New("payment: event ignored")

// ErrInvalidSignature возвращается при неверной подписи вебхука.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// ErrProviderFailure оборачивает ошибки шлюза провайдера. HTTP-слой транслирует
// такие ошибки в ответы класса 502.
var ErrProviderFailure = errors.New("payment: provider failure")

// Request описывает создаваемый у провайдера платёж.
type Request struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Metadata      map[string]string
}

// Intent — нормализованный ответ провайдера на создание платежа.
type Intent struct {
	ExternalID  string
	RedirectURL string
	Address     string
	QR          string
	Status      model.TransactionStatus
	Message     string
}

// RefundResult — нормализованный результат запроса возврата у провайдера.
type RefundResult struct {
	ExternalID string
	Status     model.TransactionStatus
	Message    string
}

// WebhookEvent — разобранное и проверенное событие вебхука провайдера.
type WebhookEvent struct {
	TransactionID string
	ExternalID    string
	Status        model.TransactionStatus
	ProcessedAt   time.Time
	Metadata      map[string]string
}

// Provider определяет контракт адаптера платёжного провайдера. Тесты подменяют
// реализацию детерминированной заглушкой.
type Provider interface {
	CreatePayment(ctx context.Context, req Request) (*Intent, error)
	RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal, reason string) (*RefundResult, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Registry хранит провайдеров по способу оплаты. Способы BALANCE и BONUS
// обрабатываются синхронно на стороне сервиса и провайдера не имеют.
type Registry struct {
	providers map[model.PaymentMethod]Provider
}

// NewRegistry создаёт реестр провайдеров.
func NewRegistry(providers map[model.PaymentMethod]Provider) *Registry {
	copied := make(map[model.PaymentMethod]Provider, len(providers))
	for m, p := range providers {
		if p != nil {
			copied[m] = p
		}
	}
	return &Registry{providers: copied}
}

// Resolve возвращает провайдера для способа оплаты.
func (r *Registry) Resolve(method model.PaymentMethod) (Provider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, ErrUnsupportedMethod
	}
	return p, nil
}

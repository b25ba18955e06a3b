package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/avoronin/cargoflow/internal/model"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig настраивает провайдера карточных платежей.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string

	// Подменяются в тестах детерминированными заглушками.
	Sessions stripeSessionAPI
	Refunds  stripeRefundAPI
}

// StripeProvider реализует карточные платежи через Stripe Checkout.
type StripeProvider struct {
	sessions      stripeSessionAPI
	refunds       stripeRefundAPI
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeProvider создаёт провайдера Stripe.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	sessions := cfg.Sessions
	refunds := cfg.Refunds

	if sessions == nil || refunds == nil {
		if cfg.APIKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(cfg.APIKey, nil)
		sessions = sc.CheckoutSessions
		refunds = sc.Refunds
	}

	return &StripeProvider{
		sessions:      sessions,
		refunds:       refunds,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// minorUnits переводит денежную сумму в минимальные единицы валюты Stripe.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreatePayment создаёт сессию Stripe Checkout. Транзакция остаётся в PENDING
// до подтверждения асинхронным вебхуком.
func (p *StripeProvider) CreatePayment(ctx context.Context, req Request) (*Intent, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.TransactionID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(minorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TransactionID)

	params.Metadata = map[string]string{"transaction_id": req.TransactionID}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{"transaction_id": req.TransactionID},
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	return &Intent{
		ExternalID:  session.ID,
		RedirectURL: session.URL,
		Status:      model.TransactionStatusPending,
	}, nil
}

// RefundPayment выполняет возврат по карточному платежу через Stripe.
func (p *StripeProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	params.Context = ctx
	if reason != "" {
		params.Metadata = map[string]string{"reason": reason}
	}

	refund, err := p.refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create refund: %w", err)
	}

	status := model.TransactionStatusProcessing
	if refund.Status == stripe.RefundStatusSucceeded {
		status = model.TransactionStatusSuccess
	}

	return &RefundResult{
		ExternalID: refund.ID,
		Status:     status,
	}, nil
}

// VerifyWebhook проверяет подпись и разбирает событие Stripe. Интерес
// представляют только завершение и истечение checkout-сессии; остальные события
// возвращаются как ErrEventIgnored.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	var status model.TransactionStatus
	switch event.Type {
	case "checkout.session.completed":
		status = model.TransactionStatusSuccess
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		status = model.TransactionStatusFailed
	default:
		return nil, ErrEventIgnored
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("stripe: decode event payload: %w", err)
	}

	txID := session.ClientReferenceID
	if txID == "" {
		txID = session.Metadata["transaction_id"]
	}
	if txID == "" {
		return nil, errors.New("stripe: event without transaction reference")
	}

	externalID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		// Для последующего возврата сохраняем идентификатор Payment Intent.
		externalID = session.PaymentIntent.ID
	}

	return &WebhookEvent{
		TransactionID: txID,
		ExternalID:    externalID,
		Status:        status,
		ProcessedAt:   time.Unix(event.Created, 0).UTC(),
		Metadata:      map[string]string{"stripe_event": string(event.Type)},
	}, nil
}

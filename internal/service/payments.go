package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
)

// CreatePaymentRequest описывает запрос на создание платежа.
type CreatePaymentRequest struct {
	UserID      int64
	OrderID     *int64
	Amount      decimal.Decimal
	Currency    string
	Method      model.PaymentMethod
	Description string
	Metadata    map[string]string
}

// PaymentResult — результат создания платежа: транзакция и платёжные реквизиты
// провайдера для асинхронных способов оплаты.
type PaymentResult struct {
	Transaction *model.Transaction
	RedirectURL string
	Address     string
	QR          string
	Message     string
}

// CreatePayment создаёт платёж. Для заказа сумма всегда берётся из самого
// заказа: сумма из запроса клиента игнорируется, чтобы исключить подмену цены.
// BALANCE и BONUS обрабатываются синхронно атомарным условным списанием;
// CARD, CRYPTO и SBP остаются в PENDING до подтверждения вебхуком.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResult, error) {
	user, err := s.repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrUserBanned
	}

	amount := req.Amount
	currency := req.Currency
	var orderID *int64

	if req.OrderID != nil {
		order, err := s.repo.GetOrderByID(ctx, *req.OrderID)
		if err != nil {
			return nil, err
		}
		// Чужой заказ неотличим от несуществующего.
		if order.UserID != req.UserID {
			return nil, repository.ErrOrderNotFound
		}
		if order.Status != model.OrderStatusPending {
			return nil, fmt.Errorf("%w: status %s", ErrOrderNotPending, order.Status)
		}
		amount = order.TotalAmount
		currency = order.Currency
		orderID = &order.ID
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if currency == "" {
		currency = "USD"
	}

	// Предварительная проверка средств: отказ до создания транзакции.
	// Гонку конкурентных списаний закрывает условный UPDATE в репозитории.
	switch req.Method {
	case model.PaymentMethodBalance:
		if user.Balance.LessThan(amount) {
			return nil, repository.ErrInsufficientBalance
		}
	case model.PaymentMethodBonus:
		if user.BonusBalance.LessThan(amount) {
			return nil, repository.ErrInsufficientBonus
		}
	}

	tx := &model.Transaction{
		ID:       uuid.NewString(),
		UserID:   req.UserID,
		OrderID:  orderID,
		Type:     model.TransactionTypePayment,
		Amount:   amount,
		Currency: currency,
		Method:   req.Method,
		Status:   model.TransactionStatusPending,
		Metadata: req.Metadata,
	}

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	switch req.Method {
	case model.PaymentMethodBalance, model.PaymentMethodBonus:
		return s.payFromBalance(ctx, tx, req.Method == model.PaymentMethodBonus)
	case model.PaymentMethodCard, model.PaymentMethodCrypto, model.PaymentMethodSBP:
		return s.payViaProvider(ctx, tx, req.Description)
	}

	return nil, payment.ErrUnsupportedMethod
}

func (s *Service) payFromBalance(ctx context.Context, tx *model.Transaction, bonus bool) (*PaymentResult, error) {
	orderPaid, err := s.repo.PayFromBalance(ctx, tx.ID, tx.UserID, tx.Amount, bonus, tx.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) || errors.Is(err, repository.ErrInsufficientBonus) {
			// Списание не прошло: фиксируем неуспех в журнале и возвращаем
			// ошибку о нехватке средств. Состояние заказа не меняется.
			now := time.Now()
			if _, _, settleErr := s.repo.SettleTransaction(ctx, tx.ID, nil, model.TransactionStatusFailed, now,
				map[string]string{"reason": "insufficient funds"}); settleErr == nil {
				tx.Status = model.TransactionStatusFailed
				s.notifier.PaymentFailed(ctx, tx)
			}
		}
		return nil, err
	}

	settled, err := s.repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	s.notifier.PaymentSucceeded(ctx, settled)
	if orderPaid && settled.OrderID != nil {
		s.notifier.OrderPaid(ctx, *settled.OrderID)
		s.notifier.OrderStatusChanged(ctx, *settled.OrderID, model.OrderStatusPending, model.OrderStatusPaid)
	}

	return &PaymentResult{Transaction: settled}, nil
}

func (s *Service) payViaProvider(ctx context.Context, tx *model.Transaction, description string) (*PaymentResult, error) {
	provider, err := s.providers.Resolve(tx.Method)
	if err != nil {
		return nil, err
	}

	intent, err := provider.CreatePayment(ctx, payment.Request{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Description:   description,
		Metadata:      tx.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrProviderFailure, err)
	}

	if intent.ExternalID != "" {
		if err := s.repo.SetTransactionExternalID(ctx, tx.ID, intent.ExternalID); err != nil {
			return nil, err
		}
		tx.ExternalID = &intent.ExternalID
	}

	return &PaymentResult{
		Transaction: tx,
		RedirectURL: intent.RedirectURL,
		Address:     intent.Address,
		QR:          intent.QR,
		Message:     intent.Message,
	}, nil
}

// SettlePayment финализирует транзакцию по результату от провайдера: вызывается
// обработчиками вебхуков асинхронных способов оплаты. Повторная доставка того же
// события отклоняется репозиторием как уже обработанная транзакция.
func (s *Service) SettlePayment(ctx context.Context, event *payment.WebhookEvent) (*model.Transaction, error) {
	var externalID *string
	if event.ExternalID != "" {
		externalID = &event.ExternalID
	}

	settled, orderPaid, err := s.repo.SettleTransaction(ctx, event.TransactionID, externalID, event.Status, event.ProcessedAt, event.Metadata)
	if err != nil {
		return nil, err
	}

	switch event.Status {
	case model.TransactionStatusSuccess:
		s.notifier.PaymentSucceeded(ctx, settled)
		if orderPaid && settled.OrderID != nil {
			s.notifier.OrderPaid(ctx, *settled.OrderID)
			s.notifier.OrderStatusChanged(ctx, *settled.OrderID, model.OrderStatusPending, model.OrderStatusPaid)
		}
	case model.TransactionStatusFailed:
		// Заказ остаётся в PENDING: пользователь может повторить оплату.
		s.notifier.PaymentFailed(ctx, settled)
	}

	return settled, nil
}

// HandleWebhook проверяет подпись вебхука провайдера и финализирует транзакцию.
func (s *Service) HandleWebhook(ctx context.Context, method model.PaymentMethod, payload []byte, signature string) (*model.Transaction, error) {
	provider, err := s.providers.Resolve(method)
	if err != nil {
		return nil, err
	}

	event, err := provider.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	return s.SettlePayment(ctx, event)
}

// RefundPayment выполняет возврат по успешной транзакции. Сумма по умолчанию —
// полная сумма исходной транзакции. Исходная транзакция безусловно помечается
// REFUNDED, связанный заказ переводится в REFUNDED.
func (s *Service) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal, reason string) (*model.Transaction, error) {
	orig, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orig.Status != model.TransactionStatusSuccess {
		return nil, fmt.Errorf("%w: status %s", ErrTransactionNotSuccessful, orig.Status)
	}

	refundAmount := orig.Amount
	if amount != nil {
		if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(orig.Amount) {
			return nil, fmt.Errorf("%w: refund amount out of range", ErrInvalidAmount)
		}
		refundAmount = *amount
	}

	refund := &model.Transaction{
		ID:       uuid.NewString(),
		UserID:   orig.UserID,
		OrderID:  orig.OrderID,
		Type:     model.TransactionTypeRefund,
		Amount:   refundAmount,
		Currency: orig.Currency,
		Method:   orig.Method,
		Status:   model.TransactionStatusPending,
		Metadata: map[string]string{"original_transaction": orig.ID, "reason": reason},
	}
	if err := s.repo.CreateTransaction(ctx, refund); err != nil {
		return nil, err
	}

	var finalStatus model.TransactionStatus
	var creditUserID *int64
	creditBonus := false

	switch orig.Method {
	case model.PaymentMethodCard, model.PaymentMethodCrypto, model.PaymentMethodSBP:
		provider, err := s.providers.Resolve(orig.Method)
		if err != nil {
			return nil, err
		}
		externalID := ""
		if orig.ExternalID != nil {
			externalID = *orig.ExternalID
		}
		res, err := provider.RefundPayment(ctx, externalID, refundAmount, reason)
		if err != nil {
			// Провайдер отказал: возвратная транзакция закрывается как FAILED,
			// исходная остаётся SUCCESS и возврат можно повторить.
			now := time.Now()
			if _, _, settleErr := s.repo.SettleTransaction(ctx, refund.ID, nil, model.TransactionStatusFailed, now,
				map[string]string{"reason": "provider refund error"}); settleErr == nil {
				refund.Status = model.TransactionStatusFailed
				s.notifier.PaymentFailed(ctx, refund)
			}
			return nil, fmt.Errorf("%w: %v", payment.ErrProviderFailure, err)
		}
		finalStatus = res.Status
	case model.PaymentMethodBalance, model.PaymentMethodBonus:
		finalStatus = model.TransactionStatusSuccess
		creditUserID = &orig.UserID
		creditBonus = orig.Method == model.PaymentMethodBonus
	default:
		return nil, payment.ErrUnsupportedMethod
	}

	err = s.repo.FinalizeRefund(ctx, refund.ID, orig.ID, finalStatus, creditUserID, refundAmount, creditBonus, orig.OrderID)
	if err != nil {
		return nil, err
	}

	if orig.OrderID != nil {
		s.notifier.OrderStatusChanged(ctx, *orig.OrderID, model.OrderStatusPaid, model.OrderStatusRefunded)
	}

	return s.repo.GetTransaction(ctx, refund.ID)
}

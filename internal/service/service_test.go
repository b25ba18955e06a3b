package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
)

// stubRepo — потокобезопасная in-memory реализация Repository для тестов.
// Условные обновления повторяют семантику SQL-запросов репозитория.
type stubRepo struct {
	mu sync.Mutex

	users    map[int64]*model.User
	orders   map[int64]*model.Order
	txs      map[string]*model.Transaction
	tariffs  []model.Tariff
	history  []model.StatusHistory
	nextID   int64
	banAudit int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:  make(map[int64]*model.User),
		orders: make(map[int64]*model.Order),
		txs:    make(map[string]*model.Transaction),
		nextID: 1,
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, hash []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.users[id] = &model.User{ID: id, Login: login, PasswordHash: hash}
	return id, nil
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubRepo) SetUserBanned(ctx context.Context, userID int64, banned bool, adminID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsBanned = banned
	s.banAudit++
	return nil
}

func (s *stubRepo) CreateTariff(ctx context.Context, t *model.Tariff) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	s.tariffs = append(s.tariffs, *t)
	return t.ID, nil
}

func (s *stubRepo) UpdateTariff(ctx context.Context, t *model.Tariff) error { return nil }

func (s *stubRepo) DeactivateTariff(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) GetTariffByID(ctx context.Context, id int64) (*model.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tariffs {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, repository.ErrTariffNotFound
}

func (s *stubRepo) ListTariffs(ctx context.Context, countryID int64) ([]model.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Tariff
	for _, t := range s.tariffs {
		if t.CountryID == countryID && t.IsActive {
			res = append(res, t)
		}
	}
	return res, nil
}

// Повторяет сортировку SQL-запроса: price_per_kg по возрастанию, затем id.
func (s *stubRepo) ListApplicableTariffs(ctx context.Context, countryID int64, weight decimal.Decimal) ([]model.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Tariff
	for _, t := range s.tariffs {
		if t.CountryID == countryID && t.IsActive && t.AppliesTo(weight) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].PricePerKg.Equal(res[j].PricePerKg) {
			return res[i].PricePerKg.LessThan(res[j].PricePerKg)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	cp.ID = s.nextID
	s.nextID++
	cp.Status = model.OrderStatusPending
	cp.TrackNumber = "CF-TEST"
	cp.CreatedAt = time.Now()
	s.orders[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepo) GetOrderByTrack(ctx context.Context, track string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.TrackNumber == track {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.StatusHistory
	for _, h := range s.history {
		if h.OrderID == orderID {
			res = append(res, h)
		}
	}
	return res, nil
}

func (s *stubRepo) appendHistoryLocked(orderID int64, from, to model.OrderStatus, changedBy string) {
	s.history = append(s.history, model.StatusHistory{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		CreatedAt:  time.Now(),
	})
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrOrderStateConflict
	}
	o.Status = to
	s.appendHistoryLocked(orderID, from, to, changedBy)
	return nil
}

func (s *stubRepo) CancelOrder(ctx context.Context, orderID int64, from model.OrderStatus, reason, changedBy string) error {
	return s.UpdateOrderStatus(ctx, orderID, from, model.OrderStatusCancelled, changedBy)
}

func (s *stubRepo) BulkUpdateOrderStatus(ctx context.Context, orderIDs []int64, to model.OrderStatus, adminID int64) error {
	return nil
}

func (s *stubRepo) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Status = model.TransactionStatusPending
	cp.CreatedAt = time.Now()
	s.txs[cp.ID] = &cp
	return nil
}

func (s *stubRepo) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *stubRepo) SetTransactionExternalID(ctx context.Context, id, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	t.ExternalID = &externalID
	return nil
}

func (s *stubRepo) markOrderPaidLocked(orderID int64, at time.Time) bool {
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderStatusPending {
		return false
	}
	o.Status = model.OrderStatusPaid
	o.PaidAt = &at
	s.appendHistoryLocked(orderID, model.OrderStatusPending, model.OrderStatusPaid, "system")
	return true
}

func (s *stubRepo) SettleTransaction(ctx context.Context, id string, externalID *string, status model.TransactionStatus, processedAt time.Time, metadata map[string]string) (*model.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, false, repository.ErrTransactionNotFound
	}
	if t.Status != model.TransactionStatusPending {
		return nil, false, repository.ErrTransactionProcessed
	}
	t.Status = status
	t.ProcessedAt = &processedAt
	if externalID != nil {
		t.ExternalID = externalID
	}
	orderPaid := false
	if status == model.TransactionStatusSuccess && t.OrderID != nil {
		orderPaid = s.markOrderPaidLocked(*t.OrderID, processedAt)
	}
	cp := *t
	return &cp, orderPaid, nil
}

func (s *stubRepo) PayFromBalance(ctx context.Context, txID string, userID int64, amount decimal.Decimal, bonus bool, orderID *int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, repository.ErrUserNotFound
	}

	if bonus {
		if u.BonusBalance.LessThan(amount) {
			return false, repository.ErrInsufficientBonus
		}
		u.BonusBalance = u.BonusBalance.Sub(amount)
	} else {
		if u.Balance.LessThan(amount) {
			return false, repository.ErrInsufficientBalance
		}
		u.Balance = u.Balance.Sub(amount)
	}

	now := time.Now()
	t := s.txs[txID]
	t.Status = model.TransactionStatusSuccess
	t.ProcessedAt = &now

	orderPaid := false
	if orderID != nil {
		orderPaid = s.markOrderPaidLocked(*orderID, now)
	}
	return orderPaid, nil
}

func (s *stubRepo) FinalizeRefund(ctx context.Context, refundTxID, originalTxID string, status model.TransactionStatus, creditUserID *int64, creditAmount decimal.Decimal, creditBonus bool, orderID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if creditUserID != nil {
		u := s.users[*creditUserID]
		if creditBonus {
			u.BonusBalance = u.BonusBalance.Add(creditAmount)
		} else {
			u.Balance = u.Balance.Add(creditAmount)
		}
	}

	now := time.Now()
	refund := s.txs[refundTxID]
	refund.Status = status
	refund.ProcessedAt = &now

	orig := s.txs[originalTxID]
	orig.Status = model.TransactionStatusRefunded
	orig.ProcessedAt = &now

	if orderID != nil {
		o := s.orders[*orderID]
		s.appendHistoryLocked(*orderID, o.Status, model.OrderStatusRefunded, "system")
		o.Status = model.OrderStatusRefunded
	}
	return nil
}

func (s *stubRepo) ExpirePendingTransactions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired int64
	cutoff := time.Now().Add(-ttl)
	for _, t := range s.txs {
		if t.Status == model.TransactionStatusPending && t.CreatedAt.Before(cutoff) {
			t.Status = model.TransactionStatusCancelled
			expired++
		}
	}
	return expired, nil
}

var _ Repository = (*stubRepo)(nil)

// stubNotifier накапливает отправленные уведомления.
type stubNotifier struct {
	mu            sync.Mutex
	paySuccess    int
	payFailure    int
	orderPaid     []int64
	statusChanges int
}

func (n *stubNotifier) PaymentSucceeded(ctx context.Context, t *model.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paySuccess++
}

func (n *stubNotifier) PaymentFailed(ctx context.Context, t *model.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payFailure++
}

func (n *stubNotifier) OrderPaid(ctx context.Context, orderID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orderPaid = append(n.orderPaid, orderID)
}

func (n *stubNotifier) OrderStatusChanged(ctx context.Context, orderID int64, from, to model.OrderStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusChanges++
}

// stubProvider — детерминированный платёжный провайдер.
type stubProvider struct {
	intent    *payment.Intent
	createErr error
	refund    *payment.RefundResult
	refundErr error
	event     *payment.WebhookEvent
	verifyErr error
}

func (p *stubProvider) CreatePayment(ctx context.Context, req payment.Request) (*payment.Intent, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	if p.intent != nil {
		return p.intent, nil
	}
	return &payment.Intent{ExternalID: "ext-" + req.TransactionID, Status: model.TransactionStatusPending}, nil
}

func (p *stubProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal, reason string) (*payment.RefundResult, error) {
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	if p.refund != nil {
		return p.refund, nil
	}
	return &payment.RefundResult{ExternalID: externalID, Status: model.TransactionStatusSuccess}, nil
}

func (p *stubProvider) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return p.event, nil
}

// Package service реализует бизнес-логику сервиса карго-форвардинга.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
)

// Ошибки уровня бизнес-логики. Вместе с ошибками репозитория они образуют
// стабильные коды, которые HTTP-слой транслирует в ответы API.
var (
	// ErrNoTariffAvailable возвращается, когда для маршрута и веса нет ни одного тарифа.
	ErrNoTariffAvailable = errors.New("no tariff available")
	// ErrOrderNotPending возвращается при попытке оплатить заказ не в статусе PENDING.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrTransactionNotSuccessful возвращается при попытке возврата по неуспешной транзакции.
	ErrTransactionNotSuccessful = errors.New("transaction is not successful")
	// ErrUserBanned возвращается при операции от имени заблокированного пользователя.
	ErrUserBanned = errors.New("user is banned")
	// ErrInvalidAmount возвращается при некорректной сумме операции.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidCredentials возвращается при неверной паре логин-пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTrackNumber возвращается при некорректном формате трек-номера.
	ErrInvalidTrackNumber = errors.New("invalid track number")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetUserBanned(ctx context.Context, userID int64, banned bool, adminID int64, reason string) error

	CreateTariff(ctx context.Context, t *model.Tariff) (int64, error)
	UpdateTariff(ctx context.Context, t *model.Tariff) error
	DeactivateTariff(ctx context.Context, id int64) error
	GetTariffByID(ctx context.Context, id int64) (*model.Tariff, error)
	ListTariffs(ctx context.Context, countryID int64) ([]model.Tariff, error)
	ListApplicableTariffs(ctx context.Context, countryID int64, weight decimal.Decimal) ([]model.Tariff, error)

	CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByTrack(ctx context.Context, track string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistory, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, changedBy string) error
	CancelOrder(ctx context.Context, orderID int64, from model.OrderStatus, reason, changedBy string) error
	BulkUpdateOrderStatus(ctx context.Context, orderIDs []int64, to model.OrderStatus, adminID int64) error

	CreateTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	SetTransactionExternalID(ctx context.Context, id, externalID string) error
	SettleTransaction(ctx context.Context, id string, externalID *string, status model.TransactionStatus, processedAt time.Time, metadata map[string]string) (*model.Transaction, bool, error)
	PayFromBalance(ctx context.Context, txID string, userID int64, amount decimal.Decimal, bonus bool, orderID *int64) (bool, error)
	FinalizeRefund(ctx context.Context, refundTxID, originalTxID string, status model.TransactionStatus, creditUserID *int64, creditAmount decimal.Decimal, creditBonus bool, orderID *int64) error
	ExpirePendingTransactions(ctx context.Context, ttl time.Duration) (int64, error)
}

// Notifier описывает канал доставки уведомлений о событиях платежей и заказов.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, t *model.Transaction)
	PaymentFailed(ctx context.Context, t *model.Transaction)
	OrderPaid(ctx context.Context, orderID int64)
	OrderStatusChanged(ctx context.Context, orderID int64, from, to model.OrderStatus)
}

// Service содержит бизнес-логику сервиса карго-форвардинга.
type Service struct {
	repo      Repository
	providers *payment.Registry
	notifier  Notifier
}

// NewService создаёт новый сервис с указанным репозиторием, реестром платёжных
// провайдеров и каналом уведомлений.
func NewService(repo Repository, providers *payment.Registry, notifier Notifier) *Service {
	return &Service{
		repo:      repo,
		providers: providers,
		notifier:  notifier,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/repository"
	"github.com/avoronin/cargoflow/internal/validation"
)

// CreateOrderRequest описывает параметры создания заказа.
type CreateOrderRequest struct {
	UserID        int64
	Type          model.OrderType
	TariffID      int64
	Weight        decimal.Decimal
	Dimensions    *calculator.Dimensions
	DeclaredValue decimal.Decimal
	Currency      string
}

// CreateOrder создаёт заказ по выбранному тарифу. Итоговая сумма фиксируется
// на момент создания по текущему тарифу: расчёт снимается в заказ, а не
// ссылается на живой тариф.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	user, err := s.repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrUserBanned
	}

	if req.Weight.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: weight must be positive", ErrInvalidAmount)
	}
	if req.DeclaredValue.IsNegative() {
		return nil, fmt.Errorf("%w: declared value must be non-negative", ErrInvalidAmount)
	}

	tariff, err := s.repo.GetTariffByID(ctx, req.TariffID)
	if err != nil {
		return nil, err
	}
	if !tariff.IsActive || !tariff.AppliesTo(req.Weight) {
		return nil, ErrNoTariffAvailable
	}

	quote := calculator.BuildQuote([]model.Tariff{*tariff}, req.Weight, req.Dimensions, req.DeclaredValue)
	total := quote.Options[0].TotalCost

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	order := &model.Order{
		UserID:      req.UserID,
		Type:        req.Type,
		TariffID:    &tariff.ID,
		WarehouseID: &tariff.WarehouseID,
		TotalAmount: total,
		Currency:    currency,
	}

	return s.repo.CreateOrder(ctx, order)
}

// GetOrderByID возвращает заказ по идентификатору.
func (s *Service) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// GetOrderByTrack ищет заказ по трек-номеру. Номер нормализуется к верхнему
// регистру перед поиском.
func (s *Service) GetOrderByTrack(ctx context.Context, track string) (*model.Order, error) {
	if !validation.IsValidTrackNumber(track) {
		return nil, ErrInvalidTrackNumber
	}
	return s.repo.GetOrderByTrack(ctx, validation.NormalizeTrackNumber(track))
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetOrderHistory возвращает историю статусов заказа.
func (s *Service) GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistory, error) {
	return s.repo.GetOrderHistory(ctx, orderID)
}

// UpdateOrderStatus переводит заказ в новый статус с проверкой допустимости
// перехода и записью в историю.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, to model.OrderStatus, changedBy string) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !order.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrOrderStateConflict, order.Status, to)
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, order.Status, to, changedBy); err != nil {
		return err
	}

	s.notifier.OrderStatusChanged(ctx, orderID, order.Status, to)
	return nil
}

// CancelOrder отменяет заказ с указанием причины.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason, changedBy string) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: order is already %s", repository.ErrOrderStateConflict, order.Status)
	}

	if err := s.repo.CancelOrder(ctx, orderID, order.Status, reason, changedBy); err != nil {
		return err
	}

	s.notifier.OrderStatusChanged(ctx, orderID, order.Status, model.OrderStatusCancelled)
	return nil
}

// BulkUpdateOrderStatus переводит группу заказов в новый статус от имени
// администратора. Обновление и запись аудита атомарны: при ошибке по любому
// заказу не меняется ни один.
func (s *Service) BulkUpdateOrderStatus(ctx context.Context, orderIDs []int64, to model.OrderStatus, adminID int64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return s.repo.BulkUpdateOrderStatus(ctx, orderIDs, to, adminID)
}

// SetUserBanned блокирует или разблокирует пользователя от имени администратора.
func (s *Service) SetUserBanned(ctx context.Context, userID int64, banned bool, adminID int64, reason string) error {
	return s.repo.SetUserBanned(ctx, userID, banned, adminID, reason)
}

package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/model"
)

// ListApplicableTariffs возвращает активные тарифы страны отправления,
// применимые к указанному весу, по возрастанию цены за килограмм.
func (s *Service) ListApplicableTariffs(ctx context.Context, countryID int64, weight decimal.Decimal) ([]model.Tariff, error) {
	if weight.IsNegative() {
		return nil, fmt.Errorf("%w: weight must be non-negative", ErrInvalidAmount)
	}

	tariffs, err := s.repo.ListApplicableTariffs(ctx, countryID, weight)
	if err != nil {
		return nil, err
	}
	if len(tariffs) == 0 {
		return nil, ErrNoTariffAvailable
	}
	return tariffs, nil
}

// QuoteShipping рассчитывает варианты доставки для маршрута и параметров посылки.
// Тарифы отбираются по фактическому весу, а тарифицируется расчётный вес —
// максимум из фактического и объёмного. Отбор по фактическому весу сохранён
// как наблюдаемое поведение исходной системы.
func (s *Service) QuoteShipping(ctx context.Context, countryID int64, weight decimal.Decimal, dims *calculator.Dimensions, declaredValue decimal.Decimal) (*calculator.Quote, error) {
	if declaredValue.IsNegative() {
		return nil, fmt.Errorf("%w: declared value must be non-negative", ErrInvalidAmount)
	}

	tariffs, err := s.ListApplicableTariffs(ctx, countryID, weight)
	if err != nil {
		return nil, err
	}

	quote := calculator.BuildQuote(tariffs, weight, dims, declaredValue)
	return &quote, nil
}

// ListTariffs возвращает все активные тарифы страны отправления без фильтра по весу.
func (s *Service) ListTariffs(ctx context.Context, countryID int64) ([]model.Tariff, error) {
	return s.repo.ListTariffs(ctx, countryID)
}

// CreateTariff создаёт новый тариф.
func (s *Service) CreateTariff(ctx context.Context, t *model.Tariff) (int64, error) {
	if err := validateTariff(t); err != nil {
		return 0, err
	}
	return s.repo.CreateTariff(ctx, t)
}

// UpdateTariff обновляет существующий тариф.
func (s *Service) UpdateTariff(ctx context.Context, t *model.Tariff) error {
	if err := validateTariff(t); err != nil {
		return err
	}
	return s.repo.UpdateTariff(ctx, t)
}

// DeactivateTariff выполняет мягкое удаление тарифа.
func (s *Service) DeactivateTariff(ctx context.Context, id int64) error {
	return s.repo.DeactivateTariff(ctx, id)
}

func validateTariff(t *model.Tariff) error {
	if t.PricePerKg.IsNegative() {
		return fmt.Errorf("%w: price per kg must be non-negative", ErrInvalidAmount)
	}
	if t.MinWeight.IsNegative() {
		return fmt.Errorf("%w: min weight must be non-negative", ErrInvalidAmount)
	}
	if t.MaxWeight != nil && t.MaxWeight.LessThan(t.MinWeight) {
		return fmt.Errorf("%w: max weight must be greater or equal to min weight", ErrInvalidAmount)
	}
	return nil
}

// Package calculator реализует расчёт стоимости доставки по тарифам.
package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

// VolumetricDivisor — делитель перевода объёма в сантиметрах в объёмный вес в килограммах.
const VolumetricDivisor = 5000

var (
	volumetricDivisor  = decimal.NewFromInt(VolumetricDivisor)
	insuranceThreshold = decimal.NewFromInt(100)
	insuranceRate      = decimal.NewFromFloat(0.02)
	customsThreshold   = decimal.NewFromInt(200)
	customsRate        = decimal.NewFromFloat(0.30)
)

// Dimensions описывает габариты посылки в сантиметрах.
type Dimensions struct {
	Length decimal.Decimal
	Width  decimal.Decimal
	Height decimal.Decimal
}

// Option — один вариант доставки с детализацией стоимости.
type Option struct {
	TariffID      int64
	WarehouseName string
	DeliveryDays  string
	ShippingCost  decimal.Decimal
	Insurance     decimal.Decimal
	CustomsDuty   decimal.Decimal
	ProcessingFee decimal.Decimal
	CustomsFee    decimal.Decimal
	TotalCost     decimal.Decimal
}

// Quote — результат расчёта: эхо входных параметров и варианты доставки,
// отсортированные по возрастанию стоимости.
type Quote struct {
	Weight           decimal.Decimal
	VolumeWeight     decimal.Decimal
	ChargeableWeight decimal.Decimal
	DeclaredValue    decimal.Decimal
	Options          []Option
}

// VolumetricWeight возвращает объёмный вес посылки. Если хотя бы один габарит
// не задан, объёмный вес равен нулю.
func VolumetricWeight(dims *Dimensions) decimal.Decimal {
	if dims == nil {
		return decimal.Zero
	}
	if dims.Length.IsZero() || dims.Width.IsZero() || dims.Height.IsZero() {
		return decimal.Zero
	}
	return dims.Length.Mul(dims.Width).Mul(dims.Height).Div(volumetricDivisor)
}

// ChargeableWeight возвращает расчётный вес: максимум из фактического и объёмного.
func ChargeableWeight(actual, volumetric decimal.Decimal) decimal.Decimal {
	if volumetric.GreaterThan(actual) {
		return volumetric
	}
	return actual
}

// Insurance возвращает страховой сбор: 2% от объявленной стоимости свыше порога 100.
func Insurance(declaredValue decimal.Decimal) decimal.Decimal {
	if declaredValue.GreaterThan(insuranceThreshold) {
		return declaredValue.Mul(insuranceRate)
	}
	return decimal.Zero
}

// CustomsDuty возвращает таможенную пошлину: 30% от превышения объявленной
// стоимости над порогом 200.
func CustomsDuty(declaredValue decimal.Decimal) decimal.Decimal {
	if declaredValue.GreaterThan(customsThreshold) {
		return declaredValue.Sub(customsThreshold).Mul(customsRate)
	}
	return decimal.Zero
}

// BuildQuote рассчитывает варианты доставки по списку применимых тарифов.
// Тарифы должны быть заранее отфильтрованы по фактическому весу и отсортированы
// по возрастанию цены за килограмм: при одинаковом расчётном весе это даёт
// сортировку вариантов по возрастанию стоимости. Функция чистая, без побочных
// эффектов, безопасна для конкурентного вызова.
func BuildQuote(tariffs []model.Tariff, weight decimal.Decimal, dims *Dimensions, declaredValue decimal.Decimal) Quote {
	volumeWeight := VolumetricWeight(dims)
	chargeable := ChargeableWeight(weight, volumeWeight)

	insurance := Insurance(declaredValue)
	customsDuty := CustomsDuty(declaredValue)

	options := make([]Option, 0, len(tariffs))
	for _, t := range tariffs {
		shippingCost := chargeable.Mul(t.PricePerKg).Add(t.ProcessingFee).Add(t.CustomsFee)
		options = append(options, Option{
			TariffID:      t.ID,
			WarehouseName: t.WarehouseName,
			DeliveryDays:  t.DeliveryDays(),
			ShippingCost:  shippingCost,
			Insurance:     insurance,
			CustomsDuty:   customsDuty,
			ProcessingFee: t.ProcessingFee,
			CustomsFee:    t.CustomsFee,
			TotalCost:     shippingCost.Add(insurance).Add(customsDuty),
		})
	}

	return Quote{
		Weight:           weight,
		VolumeWeight:     volumeWeight,
		ChargeableWeight: chargeable,
		DeclaredValue:    declaredValue,
		Options:          options,
	}
}

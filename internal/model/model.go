// Package model содержит доменные сущности сервиса карго-форвардинга.
package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	IsBanned     bool
	Balance      decimal.Decimal
	BonusBalance decimal.Decimal
	CreatedAt    time.Time
}

// OrderType описывает тип заказа: доставка собственной посылки или выкуп товара.
type OrderType string

const (
	OrderTypeShipping OrderType = "SHIPPING"
	OrderTypePurchase OrderType = "PURCHASE"
)

// OrderStatus описывает состояние заказа в рабочем процессе склада.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusPaid              OrderStatus = "PAID"
	OrderStatusProcessing        OrderStatus = "PROCESSING"
	OrderStatusPurchasing        OrderStatus = "PURCHASING"
	OrderStatusWarehouseReceived OrderStatus = "WAREHOUSE_RECEIVED"
	OrderStatusPacking           OrderStatus = "PACKING"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusInTransit         OrderStatus = "IN_TRANSIT"
	OrderStatusCustomsClearance  OrderStatus = "CUSTOMS_CLEARANCE"
	OrderStatusArrived           OrderStatus = "ARRIVED"
	OrderStatusLocalDelivery     OrderStatus = "LOCAL_DELIVERY"
	OrderStatusReadyForPickup    OrderStatus = "READY_FOR_PICKUP"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
)

// orderFlow задаёт линейный порядок рабочих статусов заказа.
var orderFlow = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusPurchasing,
	OrderStatusWarehouseReceived,
	OrderStatusPacking,
	OrderStatusShipped,
	OrderStatusInTransit,
	OrderStatusCustomsClearance,
	OrderStatusArrived,
	OrderStatusLocalDelivery,
	OrderStatusReadyForPickup,
	OrderStatusDelivered,
}

var orderFlowIndex = func() map[OrderStatus]int {
	m := make(map[OrderStatus]int, len(orderFlow))
	for i, s := range orderFlow {
		m[s] = i
	}
	return m
}()

// IsTerminal сообщает, является ли статус заказа конечным.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionTo проверяет допустимость перехода заказа из статуса s в статус next.
// Рабочие статусы двигаются только вперёд по цепочке; CANCELLED и REFUNDED
// достижимы из любого неконечного статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled || next == OrderStatusRefunded {
		return true
	}
	from, okFrom := orderFlowIndex[s]
	to, okTo := orderFlowIndex[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// Order описывает заказ пользователя на доставку или выкуп.
type Order struct {
	ID           int64
	UserID       int64
	Type         OrderType
	Status       OrderStatus
	TariffID     *int64
	WarehouseID  *int64
	TrackNumber  string
	TotalAmount  decimal.Decimal
	Currency     string
	PaidAt       *time.Time
	CancelReason *string
	CreatedAt    time.Time
}

// StatusHistory фиксирует один переход статуса заказа.
type StatusHistory struct {
	ID         int64
	OrderID    int64
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ChangedBy  string
	CreatedAt  time.Time
}

// PaymentMethod описывает способ оплаты. Набор вариантов закрыт: диспетчеризация
// по методу выполняется исчерпывающим switch.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "CARD"
	PaymentMethodCrypto  PaymentMethod = "CRYPTO"
	PaymentMethodSBP     PaymentMethod = "SBP"
	PaymentMethodBalance PaymentMethod = "BALANCE"
	PaymentMethodBonus   PaymentMethod = "BONUS"
)

// ParsePaymentMethod преобразует строку во внутренний способ оплаты.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case PaymentMethodCard, PaymentMethodCrypto, PaymentMethodSBP, PaymentMethodBalance, PaymentMethodBonus:
		return PaymentMethod(s), true
	}
	return "", false
}

// TransactionType описывает направление движения средств.
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
)

// TransactionStatus описывает состояние транзакции. Статус двигается только вперёд:
// PENDING -> {PROCESSING|SUCCESS|FAILED|CANCELLED}, SUCCESS -> REFUNDED.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusSuccess    TransactionStatus = "SUCCESS"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
)

// Transaction — неизменяемая запись журнала движения средств.
type Transaction struct {
	ID          string
	UserID      int64
	OrderID     *int64
	Type        TransactionType
	Amount      decimal.Decimal
	Currency    string
	Method      PaymentMethod
	Status      TransactionStatus
	ExternalID  *string
	Metadata    map[string]string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Tariff описывает одно ценовое правило доставки для пары страна-склад.
type Tariff struct {
	ID              int64
	CountryID       int64
	WarehouseID     int64
	WarehouseName   string
	Name            string
	PricePerKg      decimal.Decimal
	MinWeight       decimal.Decimal
	MaxWeight       *decimal.Decimal
	DeliveryDaysMin int
	DeliveryDaysMax int
	ProcessingFee   decimal.Decimal
	CustomsFee      decimal.Decimal
	IsActive        bool
	CreatedAt       time.Time
}

// AppliesTo сообщает, попадает ли вес в весовую вилку тарифа [MinWeight, MaxWeight].
func (t Tariff) AppliesTo(weight decimal.Decimal) bool {
	if weight.LessThan(t.MinWeight) {
		return false
	}
	if t.MaxWeight != nil && weight.GreaterThan(*t.MaxWeight) {
		return false
	}
	return true
}

// DeliveryDays возвращает строковый диапазон сроков доставки для ответа API.
func (t Tariff) DeliveryDays() string {
	if t.DeliveryDaysMin == t.DeliveryDaysMax {
		return strconv.Itoa(t.DeliveryDaysMin)
	}
	return strconv.Itoa(t.DeliveryDaysMin) + "-" + strconv.Itoa(t.DeliveryDaysMax)
}

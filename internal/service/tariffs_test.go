package service

import (
	"context"
	"errors"
	"testing"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/repository"
)

func seedTariff(repo *stubRepo, name string, pricePerKg, minWeight string, maxWeight *string, processingFee, customsFee string) int64 {
	t := model.Tariff{
		CountryID:     1,
		WarehouseID:   1,
		Name:          name,
		PricePerKg:    dec(pricePerKg),
		MinWeight:     dec(minWeight),
		ProcessingFee: dec(processingFee),
		CustomsFee:    dec(customsFee),
		IsActive:      true,
	}
	if maxWeight != nil {
		mw := dec(*maxWeight)
		t.MaxWeight = &mw
	}
	id, _ := repo.CreateTariff(context.Background(), &t)
	return id
}

func strPtr(s string) *string { return &s }

func TestQuoteShipping_NoTariffAvailable(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(repo, nil)

	_, err := svc.QuoteShipping(context.Background(), 1, dec("100"), nil, dec("0"))
	if !errors.Is(err, ErrNoTariffAvailable) {
		t.Fatalf("expected ErrNoTariffAvailable, got %v", err)
	}
}

func TestQuoteShipping_WorkedExample(t *testing.T) {
	repo := newStubRepo()
	seedTariff(repo, "Standard", "10", "0", strPtr("30"), "2", "1")
	svc, _ := newTestService(repo, nil)

	quote, err := svc.QuoteShipping(context.Background(), 1, dec("3"), nil, dec("150"))
	if err != nil {
		t.Fatalf("QuoteShipping error: %v", err)
	}
	if len(quote.Options) != 1 {
		t.Fatalf("options = %d, want 1", len(quote.Options))
	}

	opt := quote.Options[0]
	if !opt.ShippingCost.Equal(dec("33")) {
		t.Fatalf("shipping cost = %s, want 33", opt.ShippingCost)
	}
	if !opt.Insurance.Equal(dec("3")) {
		t.Fatalf("insurance = %s, want 3", opt.Insurance)
	}
	if !opt.CustomsDuty.Equal(dec("0")) {
		t.Fatalf("customs duty = %s, want 0", opt.CustomsDuty)
	}
	if !opt.TotalCost.Equal(dec("36")) {
		t.Fatalf("total = %s, want 36", opt.TotalCost)
	}
}

func TestQuoteShipping_FilteredByActualWeight(t *testing.T) {
	repo := newStubRepo()
	// Лёгкий тариф до 5 кг: объёмный вес 12 кг не выбивает посылку из него.
	seedTariff(repo, "Light", "10", "0", strPtr("5"), "0", "0")
	svc, _ := newTestService(repo, nil)

	dims := &calculator.Dimensions{Length: dec("50"), Width: dec("40"), Height: dec("30")}
	quote, err := svc.QuoteShipping(context.Background(), 1, dec("3"), dims, dec("0"))
	if err != nil {
		t.Fatalf("QuoteShipping error: %v", err)
	}
	if !quote.ChargeableWeight.Equal(dec("12")) {
		t.Fatalf("chargeable weight = %s, want 12", quote.ChargeableWeight)
	}
	if !quote.Options[0].ShippingCost.Equal(dec("120")) {
		t.Fatalf("shipping cost = %s, want 120 (priced by chargeable weight)", quote.Options[0].ShippingCost)
	}
}

func TestQuoteShipping_OptionsSortedByCost(t *testing.T) {
	repo := newStubRepo()
	seedTariff(repo, "Express", "25", "0", nil, "5", "0")
	standardID := seedTariff(repo, "Standard", "10", "0", nil, "2", "0")
	svc, _ := newTestService(repo, nil)

	quote, err := svc.QuoteShipping(context.Background(), 1, dec("2"), nil, dec("0"))
	if err != nil {
		t.Fatalf("QuoteShipping error: %v", err)
	}
	if len(quote.Options) != 2 {
		t.Fatalf("options = %d, want 2", len(quote.Options))
	}
	if quote.Options[0].TariffID != standardID {
		t.Fatalf("first option tariff = %d, want %d (cheapest first)", quote.Options[0].TariffID, standardID)
	}
	if quote.Options[0].TotalCost.GreaterThan(quote.Options[1].TotalCost) {
		t.Fatalf("options not sorted by total cost")
	}
}

func TestQuoteShipping_NegativeDeclaredValue(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(repo, nil)

	_, err := svc.QuoteShipping(context.Background(), 1, dec("1"), nil, dec("-5"))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateTariff_Validation(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(repo, nil)

	maxW := dec("1")
	cases := []struct {
		name   string
		tariff model.Tariff
	}{
		{"negative price", model.Tariff{PricePerKg: dec("-1")}},
		{"negative min weight", model.Tariff{PricePerKg: dec("10"), MinWeight: dec("-1")}},
		{"max below min", model.Tariff{PricePerKg: dec("10"), MinWeight: dec("5"), MaxWeight: &maxW}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateTariff(context.Background(), &tc.tariff); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestCreateOrder_SnapshotsTotal(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	tariffID := seedTariff(repo, "Standard", "10", "0", nil, "2", "1")
	svc, _ := newTestService(repo, nil)

	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:        userID,
		Type:          model.OrderTypeShipping,
		TariffID:      tariffID,
		Weight:        dec("3"),
		DeclaredValue: dec("150"),
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if !order.TotalAmount.Equal(dec("36")) {
		t.Fatalf("total = %s, want 36", order.TotalAmount)
	}
	if order.Status != model.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	if order.Currency != "USD" {
		t.Fatalf("currency = %s, want USD default", order.Currency)
	}
	if order.TrackNumber == "" {
		t.Fatalf("track number must be assigned")
	}
}

func TestCreateOrder_TariffNotApplicable(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	tariffID := seedTariff(repo, "Light", "10", "0", strPtr("5"), "0", "0")
	svc, _ := newTestService(repo, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:   userID,
		Type:     model.OrderTypeShipping,
		TariffID: tariffID,
		Weight:   dec("20"),
	})
	if !errors.Is(err, ErrNoTariffAvailable) {
		t.Fatalf("expected ErrNoTariffAvailable, got %v", err)
	}
}

func TestCreateOrder_BannedUser(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	repo.users[userID].IsBanned = true
	tariffID := seedTariff(repo, "Standard", "10", "0", nil, "0", "0")
	svc, _ := newTestService(repo, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:   userID,
		Type:     model.OrderTypeShipping,
		TariffID: tariffID,
		Weight:   dec("1"),
	})
	if !errors.Is(err, ErrUserBanned) {
		t.Fatalf("expected ErrUserBanned, got %v", err)
	}
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	orderID := seedOrder(repo, userID, "10")
	repo.orders[orderID].Status = model.OrderStatusShipped
	svc, _ := newTestService(repo, nil)

	// Рабочие статусы двигаются только вперёд: откат SHIPPED -> PAID запрещён.
	err := svc.UpdateOrderStatus(context.Background(), orderID, model.OrderStatusPaid, "admin")
	if !errors.Is(err, repository.ErrOrderStateConflict) {
		t.Fatalf("expected ErrOrderStateConflict, got %v", err)
	}

	order, _ := repo.GetOrderByID(context.Background(), orderID)
	if order.Status != model.OrderStatusShipped {
		t.Fatalf("status must be unchanged, got %s", order.Status)
	}
}

func TestUpdateOrderStatus_ValidTransition(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	orderID := seedOrder(repo, userID, "10")
	svc, notifier := newTestService(repo, nil)

	if err := svc.UpdateOrderStatus(context.Background(), orderID, model.OrderStatusPaid, "admin"); err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}

	order, _ := repo.GetOrderByID(context.Background(), orderID)
	if order.Status != model.OrderStatusPaid {
		t.Fatalf("status = %s, want PAID", order.Status)
	}
	if notifier.statusChanges != 1 {
		t.Fatalf("status change notifications = %d, want 1", notifier.statusChanges)
	}
}

func TestCancelOrder_TerminalOrder(t *testing.T) {
	repo := newStubRepo()
	userID := seedUser(repo, "0", "0")
	orderID := seedOrder(repo, userID, "10")
	repo.orders[orderID].Status = model.OrderStatusDelivered
	svc, _ := newTestService(repo, nil)

	err := svc.CancelOrder(context.Background(), orderID, "changed my mind", "user")
	if !errors.Is(err, repository.ErrOrderStateConflict) {
		t.Fatalf("expected ErrOrderStateConflict, got %v", err)
	}
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

func TestSBPCreatePayment(t *testing.T) {
	p := NewSBPProvider("", "MA0001", "secret")

	intent, err := p.CreatePayment(context.Background(), Request{
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("1500.5"),
		Currency:      "RUB",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}

	if intent.ExternalID == "" {
		t.Fatalf("qrc id must be generated")
	}
	if !strings.HasPrefix(intent.QR, "https://qr.nspk.ru/") {
		t.Fatalf("qr link = %q", intent.QR)
	}
	if !strings.Contains(intent.QR, "sum=1500.50") {
		t.Fatalf("qr link must carry the amount: %q", intent.QR)
	}
	if intent.Status != model.TransactionStatusPending {
		t.Fatalf("status = %s, want PENDING", intent.Status)
	}
}

func TestSBPRefundAlwaysManual(t *testing.T) {
	p := NewSBPProvider("", "MA0001", "secret")

	res, err := p.RefundPayment(context.Background(), "QRC1", decimal.NewFromInt(100), "")
	if err != nil {
		t.Fatalf("RefundPayment error: %v", err)
	}
	if res.Status != model.TransactionStatusProcessing || res.Message != "manual refund required" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSBPVerifyWebhook(t *testing.T) {
	p := NewSBPProvider("", "MA0001", "secret")

	payload, _ := json.Marshal(sbpWebhookPayload{
		QRCID:         "QRC1",
		TransactionID: "tx-1",
		Status:        "ACCEPTED",
	})

	event, err := p.VerifyWebhook(payload, SignPayload("secret", payload))
	if err != nil {
		t.Fatalf("VerifyWebhook error: %v", err)
	}
	if event.Status != model.TransactionStatusSuccess || event.ExternalID != "QRC1" {
		t.Fatalf("unexpected event: %+v", event)
	}

	rejected, _ := json.Marshal(sbpWebhookPayload{
		QRCID:         "QRC1",
		TransactionID: "tx-1",
		Status:        "REJECTED",
	})
	event, err = p.VerifyWebhook(rejected, SignPayload("secret", rejected))
	if err != nil {
		t.Fatalf("VerifyWebhook error: %v", err)
	}
	if event.Status != model.TransactionStatusFailed {
		t.Fatalf("status = %s, want FAILED", event.Status)
	}

	if _, err := p.VerifyWebhook(payload, "bad"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	sbp := NewSBPProvider("", "MA0001", "secret")
	reg := NewRegistry(map[model.PaymentMethod]Provider{
		model.PaymentMethodSBP: sbp,
	})

	if _, err := reg.Resolve(model.PaymentMethodSBP); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, err := reg.Resolve(model.PaymentMethodCard); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

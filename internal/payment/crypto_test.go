package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/model"
)

func TestCryptoCreatePayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/invoices" {
			t.Fatalf("path = %s, want /api/invoices", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("authorization = %q", auth)
		}

		var req cryptoInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.TransactionID != "tx-1" || req.Amount != "42.5" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cryptoInvoiceResponse{
			InvoiceID:  "inv-1",
			Address:    "TXk9qWabc",
			PaymentURI: "tron:TXk9qWabc?amount=42.5",
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	p := NewCryptoProvider(ts.URL, "test-key", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	intent, err := p.CreatePayment(ctx, Request{
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("42.5"),
		Currency:      "USDT",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}
	if intent.ExternalID != "inv-1" || intent.Address != "TXk9qWabc" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.Status != model.TransactionStatusPending {
		t.Fatalf("status = %s, want PENDING", intent.Status)
	}
}

func TestCryptoCreatePayment_GatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := NewCryptoProvider(ts.URL, "test-key", "secret")

	_, err := p.CreatePayment(context.Background(), Request{
		TransactionID: "tx-1",
		Amount:        decimal.NewFromInt(10),
		Currency:      "USDT",
	})
	if err == nil {
		t.Fatalf("expected error for gateway failure")
	}
}

func TestCryptoRefundAlwaysManual(t *testing.T) {
	p := NewCryptoProvider("http://gateway", "key", "secret")

	res, err := p.RefundPayment(context.Background(), "inv-1", decimal.NewFromInt(10), "damaged")
	if err != nil {
		t.Fatalf("RefundPayment error: %v", err)
	}
	if res.Status != model.TransactionStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", res.Status)
	}
	if res.Message != "manual refund required" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestCryptoVerifyWebhook(t *testing.T) {
	p := NewCryptoProvider("http://gateway", "key", "secret")

	payload, _ := json.Marshal(cryptoWebhookPayload{
		InvoiceID:     "inv-1",
		TransactionID: "tx-1",
		Status:        "paid",
		ProcessedAt:   1700000000,
	})

	event, err := p.VerifyWebhook(payload, SignPayload("secret", payload))
	if err != nil {
		t.Fatalf("VerifyWebhook error: %v", err)
	}
	if event.TransactionID != "tx-1" || event.Status != model.TransactionStatusSuccess {
		t.Fatalf("unexpected event: %+v", event)
	}

	if _, err := p.VerifyWebhook(payload, "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCryptoVerifyWebhook_IgnoredStatus(t *testing.T) {
	p := NewCryptoProvider("http://gateway", "key", "secret")

	payload, _ := json.Marshal(cryptoWebhookPayload{
		InvoiceID:     "inv-1",
		TransactionID: "tx-1",
		Status:        "confirming",
	})

	if _, err := p.VerifyWebhook(payload, SignPayload("secret", payload)); !errors.Is(err, ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

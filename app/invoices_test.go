package app

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/billgate/adapters/gateway"
	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/ports"
)

// completePurchase runs a purchase through the webhook path and returns the
// completed payment id.
func completePurchase(t *testing.T, e *testEnv) string {
	t.Helper()
	p := startPurchase(t, e)
	if _, err := e.webhookSvc.Handle(context.Background(), "dummy", confirmPayload("evt-inv-"+p.ID, p, "tx-"+p.ID), ""); err != nil {
		t.Fatalf("purchase flow: %v", err)
	}
	return p.ID
}

func TestGenerateForPayment(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	paymentID := completePurchase(t, e)

	inv, err := e.invoices.GetByPaymentID(ctx, paymentID)
	if err != nil {
		t.Fatalf("invoice not issued with purchase: %v", err)
	}
	if inv.Subtotal != 450000 || inv.Tax != 0 || inv.Total != 450000 {
		t.Errorf("totals = %d/%d/%d", inv.Subtotal, inv.Tax, inv.Total)
	}
	if len(inv.Items) != 1 || inv.Items[0].Description != "Pro Monthly" || inv.Items[0].Amount != 450000 {
		t.Errorf("items = %+v", inv.Items)
	}
	if inv.Number == "" {
		t.Error("invoice number not assigned")
	}
	if inv.Buyer.Name != "Alice Tran" || inv.Buyer.TaxCode != "0312345678" {
		t.Errorf("buyer snapshot = %+v", inv.Buyer)
	}
	if !inv.IssuedAt.Equal(testNow) {
		t.Errorf("IssuedAt = %v", inv.IssuedAt)
	}
}

func TestGenerateForPayment_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	paymentID := completePurchase(t, e)

	first, err := e.invoiceSvc.GenerateForPayment(ctx, paymentID)
	if err != nil {
		t.Fatalf("GenerateForPayment error: %v", err)
	}
	second, err := e.invoiceSvc.GenerateForPayment(ctx, paymentID)
	if err != nil {
		t.Fatalf("regenerate error: %v", err)
	}
	if second.ID != first.ID || second.Number != first.Number {
		t.Errorf("regeneration produced a different invoice: %q vs %q", second.ID, first.ID)
	}
}

func TestGenerateForPayment_RequiresCompletion(t *testing.T) {
	e := newTestEnv(t)
	p := startPurchase(t, e)

	_, err := e.invoiceSvc.GenerateForPayment(context.Background(), p.ID)
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Errorf("err = %v, want ErrPaymentNotCompleted for PENDING payment", err)
	}
}

func TestGenerateForPayment_UnknownBuyer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p, _, err := e.paymentSvc.CreatePayment(ctx, CreatePaymentRequest{
		PayerID: "payer-anon", PackageID: "pkg-pro", Gateway: "dummy",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}
	payload := gateway.Payload("evt-anon", gwevent.KindPurchaseConfirmed, gwevent.Details{
		OrderRef: p.OrderRef, TransactionRef: "tx-anon", Succeeded: true,
	})
	if _, err := e.webhookSvc.Handle(ctx, "dummy", payload, ""); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	// Directory miss still issues the invoice, with blank buyer fields.
	inv, err := e.invoices.GetByPaymentID(ctx, p.ID)
	if err != nil {
		t.Fatalf("invoice missing: %v", err)
	}
	if inv.Buyer != (invoice.Buyer{}) {
		t.Errorf("buyer = %+v, want blank snapshot", inv.Buyer)
	}
}

func TestGenerateForPayment_PaymentMissing(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.invoiceSvc.GenerateForPayment(context.Background(), "nope")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

package invoice

import (
	"testing"
	"time"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/payment"
)

func TestBuildForPayment_TotalEqualsPaymentAmount(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	p := payment.Payment{
		ID:       "a1b2c3d4-e5f6-7890-abcd-ef0123456789",
		Amount:   49900,
		Currency: "USD",
		Status:   payment.StatusCompleted,
	}
	pkg := catalog.Package{ID: "pkg-1", Name: "Pro Monthly"}
	buyer := Buyer{Name: "Acme Corp", Email: "billing@acme.example"}

	inv := BuildForPayment("inv-1", p, pkg, buyer, now)

	if inv.Total != p.Amount {
		t.Errorf("Total = %d, want %d", inv.Total, p.Amount)
	}
	if inv.Subtotal != p.Amount || inv.Tax != 0 {
		t.Errorf("Subtotal = %d, Tax = %d", inv.Subtotal, inv.Tax)
	}
	if len(inv.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(inv.Items))
	}
	if inv.Items[0].Amount != p.Amount || inv.Items[0].Description != "Pro Monthly" {
		t.Errorf("item = %+v", inv.Items[0])
	}
	if inv.Buyer.Name != "Acme Corp" {
		t.Errorf("buyer = %+v", inv.Buyer)
	}
}

func TestNumber(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	got := Number("a1b2c3d4-e5f6-7890-abcd-ef0123456789", now)
	want := "INV20260315A1B2C3D4"
	if got != want {
		t.Errorf("Number = %s, want %s", got, want)
	}

	// Deterministic: the same payment always yields the same number.
	if Number("a1b2c3d4-e5f6-7890-abcd-ef0123456789", now) != got {
		t.Error("Number must be deterministic")
	}
}

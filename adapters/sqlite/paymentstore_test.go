package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/billgate/adapters/sqlite"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/ports"
)

func TestPaymentStore_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)
	p := seedPayment(t, db, "pay-1", "ORD000000000001")

	store := sqlite.NewPaymentStore(db)
	got, err := store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OrderRef != p.OrderRef || got.Status != payment.StatusPending {
		t.Errorf("got %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*p.ExpiresAt) {
		t.Errorf("ExpiresAt = %v", got.ExpiresAt)
	}

	byRef, err := store.GetByOrderRef(context.Background(), p.OrderRef)
	if err != nil {
		t.Fatalf("get by order ref: %v", err)
	}
	if byRef.ID != p.ID {
		t.Errorf("by order ref id = %s", byRef.ID)
	}
}

func TestPaymentStore_OrderRefUnique(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)
	seedPayment(t, db, "pay-1", "ORD000000000001")

	dup := payment.Payment{
		ID: "pay-2", PayerID: "user-2", PackageID: "pkg-1",
		Gateway: "stripe", OrderRef: "ORD000000000001",
		Amount: 1, Currency: "USD", Status: payment.StatusPending,
	}
	err := sqlite.NewPaymentStore(db).Create(context.Background(), dup)
	if err != sqlite.ErrDuplicate {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestPaymentStore_UpdateCAS(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)
	p := seedPayment(t, db, "pay-1", "ORD000000000001")

	store := sqlite.NewPaymentStore(db)
	ctx := context.Background()

	res, err := payment.Complete(p, "txn-1", "", testNow)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Update(ctx, res.Payment, res.Expect); err != nil {
		t.Fatalf("cas update: %v", err)
	}

	// A second writer that still believes the payment is PENDING loses.
	failed := payment.Fail(p, "", testNow)
	err = store.Update(ctx, failed.Payment, failed.Expect)
	if !errors.Is(err, ports.ErrStale) {
		t.Errorf("err = %v, want ErrStale", err)
	}

	// The stored row keeps the completed state.
	got, err := store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != payment.StatusCompleted || got.TransactionRef != "txn-1" {
		t.Errorf("got status=%s txn=%s", got.Status, got.TransactionRef)
	}
}

func TestPaymentStore_UpdateMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)

	p := payment.Payment{ID: "ghost", Status: payment.StatusFailed}
	err := sqlite.NewPaymentStore(db).Update(context.Background(), p, payment.StatusPending)
	if err != sqlite.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPaymentStore_ListPendingBefore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)
	seedPayment(t, db, "pay-1", "ORD000000000001")

	store := sqlite.NewPaymentStore(db)
	ctx := context.Background()

	// Not yet past TTL.
	got, err := store.ListPendingBefore(ctx, testNow.Add(10*time.Minute), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 before TTL", len(got))
	}

	// Past TTL.
	got, err = store.ListPendingBefore(ctx, testNow.Add(16*time.Minute), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pay-1" {
		t.Errorf("got %+v", got)
	}
}

func TestPaymentStore_ListStaleRenewals(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedPackage(t, db)

	store := sqlite.NewPaymentStore(db)
	ctx := context.Background()

	p := payment.Payment{
		ID: "pay-r1", PayerID: "user-1", PackageID: "pkg-1",
		Gateway: "stripe", OrderRef: "RENEWsub-1:20260315",
		Amount: 49900, Currency: "USD",
		Status: payment.StatusProcessing, Renewal: true,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.ListStaleRenewals(ctx, testNow.Add(25*time.Hour), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pay-r1" {
		t.Errorf("got %+v", got)
	}

	// Fresh renewals are not stale.
	got, err = store.ListStaleRenewals(ctx, testNow.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

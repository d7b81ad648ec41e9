package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/billgate/adapters/gateway"
	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// startPurchase creates a pending payment through the payment service.
func startPurchase(t *testing.T, e *testEnv) payment.Payment {
	t.Helper()
	p, _, err := e.paymentSvc.CreatePayment(context.Background(), CreatePaymentRequest{
		PayerID: "payer-1", PackageID: "pkg-pro", Gateway: "dummy",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}
	return p
}

func confirmPayload(eventID string, p payment.Payment, txRef string) []byte {
	return gateway.Payload(eventID, gwevent.KindPurchaseConfirmed, gwevent.Details{
		OrderRef:       p.OrderRef,
		TransactionRef: txRef,
		Succeeded:      true,
		Amount:         p.Amount,
		Currency:       p.Currency,
		BankCode:       "NCB",
	})
}

func TestWebhook_PurchaseConfirmed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)

	ack, err := e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-1", p, "tx-100"), "")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !ack.OK() || ack.Outcome != gwevent.OutcomeProcessed {
		t.Fatalf("ack = %+v, want PROCESSED", ack)
	}

	got, _ := e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusCompleted {
		t.Errorf("payment status = %q, want COMPLETED", got.Status)
	}
	if got.TransactionRef != "tx-100" {
		t.Errorf("TransactionRef = %q", got.TransactionRef)
	}
	if got.BankCode != "NCB" {
		t.Errorf("BankCode = %q", got.BankCode)
	}
	if got.PaidAt == nil {
		t.Error("PaidAt not set")
	}

	sub, err := e.subs.GetByPaymentID(ctx, p.ID)
	if err != nil {
		t.Fatalf("subscription not activated: %v", err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("subscription status = %q", sub.Status)
	}
	if sub.JobPostsRemaining != 10 || sub.FeaturedRemaining != 3 {
		t.Errorf("counters = %d/%d, want seeded from allotments", sub.JobPostsRemaining, sub.FeaturedRemaining)
	}
	if !sub.EndAt.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Errorf("EndAt = %v", sub.EndAt)
	}

	inv, err := e.invoices.GetByPaymentID(ctx, p.ID)
	if err != nil {
		t.Fatalf("invoice not generated: %v", err)
	}
	if inv.Total != p.Amount {
		t.Errorf("invoice total = %d, want payment amount %d", inv.Total, p.Amount)
	}
	if inv.Buyer.Email != "alice@example.com" {
		t.Errorf("buyer snapshot = %+v", inv.Buyer)
	}
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)
	payload := confirmPayload("evt-1", p, "tx-100")

	if _, err := e.webhookSvc.Handle(ctx, "dummy", payload, ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	sub1, _ := e.subs.GetByPaymentID(ctx, p.ID)
	inv1, _ := e.invoices.GetByPaymentID(ctx, p.ID)

	ack, err := e.webhookSvc.Handle(ctx, "dummy", payload, "")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if ack.Outcome != gwevent.OutcomeDuplicate {
		t.Errorf("second ack = %q, want DUPLICATE", ack.Outcome)
	}

	// Final state identical to a single delivery.
	sub2, _ := e.subs.GetByPaymentID(ctx, p.ID)
	inv2, _ := e.invoices.GetByPaymentID(ctx, p.ID)
	if sub2 != sub1 {
		t.Error("duplicate delivery mutated the subscription")
	}
	if inv2.ID != inv1.ID {
		t.Error("duplicate delivery issued a second invoice")
	}
}

func TestWebhook_SignatureRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.gateway.VerifyErr = ports.ErrSignatureInvalid

	ack, err := e.webhookSvc.Handle(ctx, "dummy", []byte("garbage"), "bad")
	if !errors.Is(err, ports.ErrSignatureInvalid) {
		t.Errorf("err = %v, want ErrSignatureInvalid", err)
	}
	if ack.OK() {
		t.Error("rejected event must not ack success")
	}

	// Audit row exists with REJECTED outcome.
	var rejected bool
	for _, ev := range e.events.rows {
		if ev.Outcome == gwevent.OutcomeRejected {
			rejected = true
		}
	}
	if !rejected {
		t.Error("no REJECTED audit row recorded")
	}
}

func TestWebhook_AuditFailureNotRecorded(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)
	e.events.createErr = errors.New("database is locked")

	ack, err := e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-1", p, "tx-100"), "")
	if err == nil {
		t.Fatal("expected error when the audit insert fails")
	}
	if ack.Recorded {
		t.Error("ack.Recorded = true, but nothing was stored")
	}

	// The delivery must stay fully unprocessed so a redelivery can run
	// cleanly: payment untouched, no dedup claim held.
	got, _ := e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusPending {
		t.Errorf("payment status = %q, want PENDING", got.Status)
	}

	e.events.createErr = nil
	ack, err = e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-1", p, "tx-100"), "")
	if err != nil {
		t.Fatalf("redelivery error: %v", err)
	}
	if !ack.Recorded || ack.Outcome != gwevent.OutcomeProcessed {
		t.Fatalf("redelivery ack = %+v, want recorded PROCESSED", ack)
	}
	got, _ = e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusCompleted {
		t.Errorf("payment status after redelivery = %q, want COMPLETED", got.Status)
	}
}

func TestWebhook_FailedNeverDowngradesCompleted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)

	if _, err := e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-1", p, "tx-100"), ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	failure := gateway.Payload("evt-2", gwevent.KindPurchaseFailed, gwevent.Details{OrderRef: p.OrderRef})
	ack, err := e.webhookSvc.Handle(ctx, "dummy", failure, "")
	if err != nil {
		t.Fatalf("failure delivery: %v", err)
	}
	if !ack.OK() {
		t.Error("late failure should still ack")
	}

	got, _ := e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusCompleted {
		t.Errorf("status = %q, COMPLETED must not downgrade", got.Status)
	}
}

func TestWebhook_InconsistentTransactionRef(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)

	if _, err := e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-1", p, "tx-100"), ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	ack, err := e.webhookSvc.Handle(ctx, "dummy", confirmPayload("evt-2", p, "tx-999"), "")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if ack.Outcome != gwevent.OutcomeError {
		t.Errorf("ack = %q, want ERROR outcome flagged for reconciliation", ack.Outcome)
	}

	// Payment left untouched in its prior state.
	got, _ := e.payments.Get(ctx, p.ID)
	if got.TransactionRef != "tx-100" {
		t.Errorf("TransactionRef = %q, must keep original", got.TransactionRef)
	}
}

func TestWebhook_UnknownKindIgnored(t *testing.T) {
	e := newTestEnv(t)

	payload := gateway.Payload("evt-x", gwevent.KindUnknown, gwevent.Details{})
	ack, err := e.webhookSvc.Handle(context.Background(), "dummy", payload, "")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !ack.OK() || ack.Outcome != gwevent.OutcomeIgnored {
		t.Errorf("ack = %+v, want IGNORED success", ack)
	}
}

func TestWebhook_UnknownOrderRefAcked(t *testing.T) {
	e := newTestEnv(t)

	payload := gateway.Payload("evt-x", gwevent.KindPurchaseConfirmed, gwevent.Details{
		OrderRef: "ORDNOSUCHREF00", TransactionRef: "tx-1", Succeeded: true,
	})
	ack, err := e.webhookSvc.Handle(context.Background(), "dummy", payload, "")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	// Reconciliation gap: logged, recorded as ERROR, still acknowledged.
	if !ack.OK() {
		t.Error("reconciliation gap must still ack")
	}
	if ack.Outcome != gwevent.OutcomeError {
		t.Errorf("outcome = %q, want ERROR", ack.Outcome)
	}
}

// activateSubscription runs the full purchase flow and returns the active
// subscription.
func activateSubscription(t *testing.T, e *testEnv) subscription.Subscription {
	t.Helper()
	p := startPurchase(t, e)
	if _, err := e.webhookSvc.Handle(context.Background(), "dummy", confirmPayload("evt-setup-"+p.ID, p, "tx-"+p.ID), ""); err != nil {
		t.Fatalf("activation flow: %v", err)
	}
	sub, err := e.subs.GetByPaymentID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("no subscription: %v", err)
	}
	return sub
}

func TestWebhook_RenewalConfirmed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)

	// Consume some quota, then renew.
	if _, err := e.subSvc.Consume(ctx, sub.ID, "job_posts", 4); err != nil {
		t.Fatalf("consume: %v", err)
	}

	orderRef := renewal.PeriodOrderRef(sub.ID, sub.EndAt)
	renewalPay := payment.Payment{
		ID: "pay-renew-1", PayerID: sub.PayerID, PackageID: sub.PackageID,
		Gateway: "dummy", OrderRef: orderRef, Amount: 450000, Currency: "VND",
		Status: payment.StatusProcessing, Renewal: true,
		CreatedAt: e.clock.Now(), UpdatedAt: e.clock.Now(),
	}
	if err := e.payments.Create(ctx, renewalPay); err != nil {
		t.Fatalf("seed renewal payment: %v", err)
	}

	payload := gateway.Payload("evt-renew-1", gwevent.KindRenewalConfirmed, gwevent.Details{
		OrderRef: orderRef, TransactionRef: "tx-renew-1", Succeeded: true,
	})
	ack, err := e.webhookSvc.Handle(ctx, "dummy", payload, "")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if ack.Outcome != gwevent.OutcomeProcessed {
		t.Fatalf("ack = %q", ack.Outcome)
	}

	renewed, _ := e.subs.Get(ctx, sub.ID)
	if !renewed.EndAt.Equal(sub.EndAt.Add(30 * 24 * time.Hour)) {
		t.Errorf("EndAt = %v, want extended from previous end", renewed.EndAt)
	}
	if renewed.JobPostsRemaining != 10 {
		t.Errorf("JobPostsRemaining = %d, want refreshed", renewed.JobPostsRemaining)
	}
	if renewed.PaymentRetryCount != 0 || renewed.GraceEndsAt != nil {
		t.Error("retry counter and grace window must be cleared")
	}

	if _, err := e.invoices.GetByPaymentID(ctx, "pay-renew-1"); err != nil {
		t.Errorf("renewal invoice missing: %v", err)
	}
}

func TestWebhook_RenewalFailedEscalates(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)

	orderRef := renewal.PeriodOrderRef(sub.ID, sub.EndAt)
	renewalPay := payment.Payment{
		ID: "pay-renew-1", PayerID: sub.PayerID, PackageID: sub.PackageID,
		Gateway: "dummy", OrderRef: orderRef, Amount: 450000, Currency: "VND",
		Status: payment.StatusProcessing, Renewal: true,
		CreatedAt: e.clock.Now(), UpdatedAt: e.clock.Now(),
	}
	if err := e.payments.Create(ctx, renewalPay); err != nil {
		t.Fatalf("seed renewal payment: %v", err)
	}

	payload := gateway.Payload("evt-renewfail-1", gwevent.KindRenewalFailed, gwevent.Details{
		OrderRef: orderRef, Succeeded: false,
	})
	if _, err := e.webhookSvc.Handle(ctx, "dummy", payload, ""); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	got, _ := e.payments.Get(ctx, "pay-renew-1")
	if got.Status != payment.StatusFailed {
		t.Errorf("payment status = %q, want FAILED", got.Status)
	}

	escalated, _ := e.subs.Get(ctx, sub.ID)
	if escalated.Status != subscription.StatusPastDue {
		t.Errorf("subscription status = %q, want PAST_DUE", escalated.Status)
	}
	if escalated.GraceEndsAt == nil || !escalated.GraceEndsAt.Equal(testNow.Add(7*24*time.Hour)) {
		t.Errorf("GraceEndsAt = %v, want now plus 7 days", escalated.GraceEndsAt)
	}
	if escalated.PaymentRetryCount != 1 {
		t.Errorf("PaymentRetryCount = %d", escalated.PaymentRetryCount)
	}

	// Standard grace notice queued for the holder.
	notices := e.queue.Jobs(JobSendNotice)
	if len(notices) != 1 || notices[0].Payload["notice"] != string(renewal.NoticeStandard) {
		t.Errorf("notices = %+v, want one standard grace notice", notices)
	}
}

func TestWebhook_Cancellation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)

	payload := gateway.Payload("evt-cancel-1", gwevent.KindCancellation, gwevent.Details{
		SubscriptionRef: sub.ID,
	})
	ack, err := e.webhookSvc.Handle(ctx, "dummy", payload, "")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if ack.Outcome != gwevent.OutcomeProcessed {
		t.Errorf("ack = %q", ack.Outcome)
	}

	got, _ := e.subs.Get(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled {
		t.Errorf("status = %q, want CANCELLED", got.Status)
	}
	if got.AutoRenew {
		t.Error("auto-renew must be off after cancellation")
	}
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/renewal"
	"github.com/artpar/billgate/domain/subscription"
)

func TestSweep_ExpiresPendingPayments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := startPurchase(t, e)

	// Still inside the TTL: nothing to do.
	e.clock.Advance(14 * time.Minute)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got, _ := e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusPending {
		t.Fatalf("status = %q before TTL, want PENDING", got.Status)
	}

	e.clock.Advance(2 * time.Minute)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got, _ = e.payments.Get(ctx, p.ID)
	if got.Status != payment.StatusExpired {
		t.Errorf("status = %q past TTL, want EXPIRED", got.Status)
	}
}

func TestSweep_ExpiresSubscriptions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)
	sub.AutoRenew = false
	if err := e.subs.Update(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	e.clock.Set(sub.EndAt.Add(time.Hour))
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got, _ := e.subs.Get(ctx, sub.ID)
	if got.Status != subscription.StatusExpired {
		t.Errorf("status = %q, want EXPIRED", got.Status)
	}
}

func TestSweep_CancelsGraceLapsed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)

	if err := e.renewalSvc.HandleFailure(ctx, sub.ID); err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}

	// Inside the grace window the subscription survives the sweep.
	e.clock.Advance(6 * 24 * time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got, _ := e.subs.Get(ctx, sub.ID)
	if got.Status != subscription.StatusPastDue {
		t.Fatalf("status = %q inside grace, want PAST_DUE", got.Status)
	}

	e.clock.Advance(2 * 24 * time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got, _ = e.subs.Get(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled || got.AutoRenew {
		t.Errorf("subscription = %+v, want CANCELLED", got)
	}

	notices := e.queue.Jobs(JobSendNotice)
	var final int
	for _, j := range notices {
		if j.Payload["notice"] == string(renewal.NoticeFinal) {
			final++
		}
	}
	if final != 1 {
		t.Errorf("final notices = %d, want 1", final)
	}
}

func TestSweep_PurgesOldEvents(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	completePurchase(t, e)

	e.clock.Advance(89 * 24 * time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(e.events.rows) == 0 {
		t.Fatal("audit rows purged before retention elapsed")
	}

	e.clock.Advance(2 * 24 * time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n := len(e.events.rows); n != 0 {
		t.Errorf("audit rows remaining = %d, want 0 past retention", n)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sub := activateSubscription(t, e)
	if err := e.renewalSvc.HandleFailure(ctx, sub.ID); err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}

	e.clock.Advance(8 * 24 * time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, _ := e.subs.Get(ctx, sub.ID)

	e.clock.Advance(time.Hour)
	if err := e.sweeperSvc.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second, _ := e.subs.Get(ctx, sub.ID)
	if second != first {
		t.Errorf("second sweep changed state: %+v vs %+v", second, first)
	}
}

package app

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/clock"
	"github.com/artpar/billgate/adapters/directory"
	"github.com/artpar/billgate/adapters/email"
	"github.com/artpar/billgate/adapters/gateway"
	"github.com/artpar/billgate/adapters/idgen"
	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/ports"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// testEnv wires every service against in-memory stores, a fake clock and
// the dummy gateway.
type testEnv struct {
	packages *memPackageStore
	payments *memPaymentStore
	subs     *memSubscriptionStore
	invoices *memInvoiceStore
	events   *memEventStore
	queue    *recordingQueue

	clock   *clock.Fake
	gateway *gateway.DummyProvider
	email   *email.MockSender
	dir     *directory.Static

	paymentSvc *PaymentService
	subSvc     *SubscriptionService
	invoiceSvc *InvoiceService
	renewalSvc *RenewalService
	webhookSvc *WebhookService
	sweeperSvc *SweeperService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		packages: newMemPackageStore(),
		invoices: newMemInvoiceStore(),
		payments: newMemPaymentStore(),
		events:   newMemEventStore(),
		queue:    newRecordingQueue(),
		clock:    clock.NewFake(testNow),
		gateway:  gateway.NewDummyProvider(),
		email:    email.NewMockSender("BillGate"),
		dir: directory.NewStatic(map[string]invoice.Buyer{
			"payer-1": {Name: "Alice Tran", Email: "alice@example.com", TaxCode: "0312345678"},
		}),
	}
	e.subs = newMemSubscriptionStore(e.packages)

	ids := &idgen.Sequential{Prefix: "id-"}
	gateways := map[string]ports.GatewayProvider{"dummy": e.gateway}
	log := zerolog.Nop()
	policy := DefaultPolicy()

	e.paymentSvc = NewPaymentService(e.packages, e.payments, gateways, ids, e.clock, policy, nil, log)
	e.subSvc = NewSubscriptionService(e.subs, e.packages, ids, e.clock, nil, log)
	e.invoiceSvc = NewInvoiceService(e.invoices, e.payments, e.packages, e.dir, ids, e.clock, log)
	e.renewalSvc = NewRenewalService(e.subs, e.payments, e.packages, gateways, e.dir, e.email, e.queue, ids, e.clock, policy, nil, log)
	e.webhookSvc = NewWebhookService(e.events, e.payments, gateways, e.subSvc, e.renewalSvc, e.invoiceSvc, ids, e.clock, nil, log)
	e.sweeperSvc = NewSweeperService(e.subs, e.payments, e.events, e.paymentSvc, e.subSvc, e.invoiceSvc, e.renewalSvc, e.clock, policy, nil, log)

	e.seedPackage(t)
	return e
}

func (e *testEnv) seedPackage(t *testing.T) catalog.Package {
	t.Helper()
	pkg := catalog.Package{
		ID:            "pkg-pro",
		Code:          "pro-monthly",
		Name:          "Pro Monthly",
		Price:         500000,
		DiscountPrice: 450000,
		Currency:      "VND",
		DurationDays:  30,
		JobPostsQuota: 10,
		FeaturedQuota: 3,
		UrgentQuota:   1,
		CVViewsQuota:  0, // unlimited
		Active:        true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if err := e.packages.Create(nil, pkg); err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return pkg
}

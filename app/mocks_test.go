package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/gwevent"
	"github.com/artpar/billgate/domain/invoice"
	"github.com/artpar/billgate/domain/payment"
	"github.com/artpar/billgate/domain/subscription"
	"github.com/artpar/billgate/ports"
)

// In-memory port implementations for service tests. Behavior mirrors the
// sqlite stores: same sentinel errors, same CAS and uniqueness semantics.

type memPackageStore struct {
	mu   sync.Mutex
	rows map[string]catalog.Package
}

func newMemPackageStore() *memPackageStore {
	return &memPackageStore{rows: make(map[string]catalog.Package)}
}

func (m *memPackageStore) Get(ctx context.Context, id string) (catalog.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return catalog.Package{}, ports.ErrNotFound
	}
	return p, nil
}

func (m *memPackageStore) GetByCode(ctx context.Context, code string) (catalog.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.Code == code {
			return p, nil
		}
	}
	return catalog.Package{}, ports.ErrNotFound
}

func (m *memPackageStore) ListActive(ctx context.Context) ([]catalog.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Package
	for _, p := range m.rows {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memPackageStore) Create(ctx context.Context, p catalog.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p
	return nil
}

type memPaymentStore struct {
	mu   sync.Mutex
	rows map[string]payment.Payment
	refs map[string]string // orderRef -> id
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{rows: make(map[string]payment.Payment), refs: make(map[string]string)}
}

func (m *memPaymentStore) Get(ctx context.Context, id string) (payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return payment.Payment{}, ports.ErrNotFound
	}
	return p, nil
}

func (m *memPaymentStore) GetByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refs[orderRef]
	if !ok {
		return payment.Payment{}, ports.ErrNotFound
	}
	return m.rows[id], nil
}

func (m *memPaymentStore) Create(ctx context.Context, p payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[p.OrderRef]; ok {
		return ports.ErrDuplicate
	}
	m.rows[p.ID] = p
	m.refs[p.OrderRef] = p.ID
	return nil
}

func (m *memPaymentStore) Update(ctx context.Context, p payment.Payment, expect payment.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[p.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if cur.Status != expect {
		return ports.ErrStale
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPaymentStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Payment
	for _, p := range m.rows {
		if p.Status == payment.StatusPending && p.ExpiresAt != nil && p.ExpiresAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPaymentStore) ListStaleRenewals(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Payment
	for _, p := range m.rows {
		if p.Status == payment.StatusProcessing && p.Renewal && p.CreatedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPaymentStore) ListCompletedWithoutInvoice(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error) {
	// The invoice join lives in the sqlite store; tests wire this by hand.
	return nil, nil
}

type memSubscriptionStore struct {
	mu       sync.Mutex
	rows     map[string]subscription.Subscription
	packages *memPackageStore
}

func newMemSubscriptionStore(packages *memPackageStore) *memSubscriptionStore {
	return &memSubscriptionStore{rows: make(map[string]subscription.Subscription), packages: packages}
}

func (m *memSubscriptionStore) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return subscription.Subscription{}, ports.ErrNotFound
	}
	return s, nil
}

func (m *memSubscriptionStore) GetByPaymentID(ctx context.Context, paymentID string) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.PaymentID == paymentID {
			return s, nil
		}
	}
	return subscription.Subscription{}, ports.ErrNotFound
}

func (m *memSubscriptionStore) GetActive(ctx context.Context, payerID, orgID string, now time.Time) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *subscription.Subscription
	for _, s := range m.rows {
		s := s
		if s.PayerID != payerID || s.OrgID != orgID || !s.Usable(now) {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = &s
		}
	}
	if best == nil {
		return subscription.Subscription{}, ports.ErrNotFound
	}
	return *best, nil
}

func (m *memSubscriptionStore) Create(ctx context.Context, s subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.PaymentID == s.PaymentID {
			return ports.ErrDuplicate
		}
	}
	m.rows[s.ID] = s
	return nil
}

func (m *memSubscriptionStore) Update(ctx context.Context, s subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; !ok {
		return ports.ErrNotFound
	}
	m.rows[s.ID] = s
	return nil
}

func (m *memSubscriptionStore) Consume(ctx context.Context, req ports.ConsumeRequest, now time.Time) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[req.SubscriptionID]
	if !ok {
		return subscription.Subscription{}, ports.ErrNotFound
	}
	pkg, ok := m.packages.rows[s.PackageID]
	if !ok {
		return subscription.Subscription{}, ports.ErrNotFound
	}

	switch subscription.Decide(s, pkg.Allotment(req.Quota), req.Quota, req.Amount, now) {
	case subscription.DecisionNotUsable:
		return subscription.Subscription{}, subscription.ErrNotUsable
	case subscription.DecisionInsufficient:
		return subscription.Subscription{}, subscription.ErrInsufficientQuota
	case subscription.DecisionUnlimited:
		return s, nil
	default:
		s.SetRemaining(req.Quota, s.Remaining(req.Quota)-req.Amount)
		s.UpdatedAt = now
		m.rows[s.ID] = s
		return s, nil
	}
}

func (m *memSubscriptionStore) ListRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range m.rows {
		if s.Status == subscription.StatusActive && s.AutoRenew &&
			!s.EndAt.Before(now) && !s.EndAt.After(now.Add(lookahead)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range m.rows {
		if s.Status == subscription.StatusActive && !s.AutoRenew && s.EndAt.Before(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) ListGraceLapsed(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range m.rows {
		if s.GraceLapsed(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) ListEndingOn(ctx context.Context, dayStart, dayEnd time.Time) ([]subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range m.rows {
		if s.Status == subscription.StatusActive && !s.AutoRenew &&
			!s.EndAt.Before(dayStart) && s.EndAt.Before(dayEnd) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memInvoiceStore struct {
	mu   sync.Mutex
	rows map[string]invoice.Invoice
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{rows: make(map[string]invoice.Invoice)}
}

func (m *memInvoiceStore) Get(ctx context.Context, id string) (invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return invoice.Invoice{}, ports.ErrNotFound
	}
	return inv, nil
}

func (m *memInvoiceStore) GetByPaymentID(ctx context.Context, paymentID string) (invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.PaymentID == paymentID {
			return inv, nil
		}
	}
	return invoice.Invoice{}, ports.ErrNotFound
}

func (m *memInvoiceStore) Create(ctx context.Context, inv invoice.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.PaymentID == inv.PaymentID {
			return ports.ErrDuplicate
		}
	}
	m.rows[inv.ID] = inv
	return nil
}

type memEventStore struct {
	mu        sync.Mutex
	rows      map[string]gwevent.Event
	claims    map[string]bool // gateway + "\x00" + eventID
	createErr error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{rows: make(map[string]gwevent.Event), claims: make(map[string]bool)}
}

func (m *memEventStore) Create(ctx context.Context, ev gwevent.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if ev.EventID == "" {
		ev.EventID = ev.ID
	}
	m.rows[ev.ID] = ev
	return nil
}

func (m *memEventStore) ClaimEventID(ctx context.Context, id, eventID string, kind gwevent.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.rows[id]
	if !ok {
		return ports.ErrNotFound
	}
	key := ev.Gateway + "\x00" + eventID
	if m.claims[key] {
		return ports.ErrDuplicate
	}
	m.claims[key] = true
	ev.EventID = eventID
	ev.Kind = kind
	m.rows[id] = ev
	return nil
}

func (m *memEventStore) Finish(ctx context.Context, id string, outcome gwevent.Outcome, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.rows[id]
	if !ok {
		return ports.ErrNotFound
	}
	ev.Outcome = outcome
	ev.Error = errMsg
	ev.ProcessedAt = &at
	m.rows[id] = ev
	return nil
}

func (m *memEventStore) Get(ctx context.Context, id string) (gwevent.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.rows[id]
	if !ok {
		return gwevent.Event{}, ports.ErrNotFound
	}
	return ev, nil
}

func (m *memEventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ev := range m.rows {
		if ev.ReceivedAt.Before(cutoff) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// recordingQueue captures enqueued jobs; Drain delivers them synchronously
// through the registered handlers.
type recordingQueue struct {
	mu       sync.Mutex
	jobs     []ports.Job
	notAfter []time.Time
	handlers map[string]ports.JobHandler
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{handlers: make(map[string]ports.JobHandler)}
}

func (q *recordingQueue) Enqueue(ctx context.Context, job ports.Job, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.notAfter = append(q.notAfter, notBefore)
	return nil
}

func (q *recordingQueue) Handle(jobType string, h ports.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *recordingQueue) Start()       {}
func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) Jobs(jobType string) []ports.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ports.Job
	for _, j := range q.jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// Drain delivers all captured jobs once and clears the backlog.
func (q *recordingQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.notAfter = nil
	q.mu.Unlock()

	for _, j := range jobs {
		q.mu.Lock()
		h := q.handlers[j.Type]
		q.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ ports.PackageStore      = (*memPackageStore)(nil)
	_ ports.PaymentStore      = (*memPaymentStore)(nil)
	_ ports.SubscriptionStore = (*memSubscriptionStore)(nil)
	_ ports.InvoiceStore      = (*memInvoiceStore)(nil)
	_ ports.EventStore        = (*memEventStore)(nil)
	_ ports.JobQueue          = (*recordingQueue)(nil)
)

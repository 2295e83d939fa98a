package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marvalero/business"
	"marvalero/ledger"
	"marvalero/stripesync"
)

// Ledger is a concurrency-safe in-memory payment processor shared by all
// actors. It plays both sides: the sync engine reads from it while the
// feeder, refunder, and disputer mutate it underneath.
type Ledger struct {
	mu      sync.Mutex
	rng     *rand.Rand
	charges []ledger.Charge
	byID    map[string]int
	subs    map[string]ledger.Subscription
	seq     int
}

func NewLedger(seed int64, customers []string) *Ledger {
	l := &Ledger{
		rng:  rand.New(rand.NewSource(seed)),
		byID: make(map[string]int),
		subs: make(map[string]ledger.Subscription),
	}
	for i, customer := range customers {
		l.subs[customer] = ledger.Subscription{
			ID:       fmt.Sprintf("sub_%03d", i),
			Customer: customer,
			Status:   "active",
			Items: []ledger.SubscriptionItem{{
				Plan: ledger.Plan{ID: fmt.Sprintf("plan_%03d", i), Nickname: "Stress Plan"},
			}},
		}
	}
	return l
}

// AddCharge creates a new succeeded charge for the customer and returns
// its payment intent id.
func (l *Ledger) AddCharge(customer string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	charge := ledger.Charge{
		ID:              fmt.Sprintf("ch_%06d", l.seq),
		PaymentIntentID: fmt.Sprintf("pi_%06d", l.seq),
		Amount:          int64(500 + l.rng.Intn(9500)),
		Currency:        "usd",
		Status:          "succeeded",
		Customer:        customer,
		Created:         time.Now().Unix(),
	}
	l.byID[charge.PaymentIntentID] = len(l.charges)
	l.charges = append(l.charges, charge)
	return charge.PaymentIntentID
}

// RandomOpenIntent returns a payment intent that has neither refunds nor
// a dispute, or "" when none qualifies.
func (l *Ledger) RandomOpenIntent() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := make([]string, 0, len(l.charges))
	for _, charge := range l.charges {
		if !charge.Refunded && !charge.Disputed {
			open = append(open, charge.PaymentIntentID)
		}
	}
	if len(open) == 0 {
		return ""
	}
	return open[l.rng.Intn(len(open))]
}

// MarkDisputed flags an unrefunded charge as disputed. Refunded charges
// keep their refund-derived state.
func (l *Ledger) MarkDisputed(paymentIntentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[paymentIntentID]
	if !ok || l.charges[idx].Refunded {
		return false
	}
	l.charges[idx].Disputed = true
	return true
}

func (l *Ledger) ListCharges(ctx context.Context, params ledger.ChargeListParams) (ledger.ChargePage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	start := 0
	if params.StartingAfter != "" {
		for i, charge := range l.charges {
			if charge.ID == params.StartingAfter {
				start = i + 1
				break
			}
		}
	}

	page := ledger.ChargePage{}
	for i := start; i < len(l.charges); i++ {
		charge := l.charges[i]
		if charge.Created < params.CreatedSince {
			continue
		}
		if len(page.Charges) == limit {
			page.HasMore = true
			break
		}
		page.Charges = append(page.Charges, copyCharge(charge))
	}
	return page, nil
}

func (l *Ledger) RetrievePaymentIntent(ctx context.Context, id string) (ledger.PaymentIntent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[id]
	if !ok {
		return ledger.PaymentIntent{}, fmt.Errorf("stress ledger: no such payment intent %s", id)
	}
	charge := l.charges[idx]
	return ledger.PaymentIntent{
		ID:       charge.PaymentIntentID,
		Amount:   charge.Amount,
		Currency: charge.Currency,
		Status:   charge.Status,
		Customer: charge.Customer,
	}, nil
}

func (l *Ledger) ListRefunds(ctx context.Context, params ledger.RefundListParams) ([]ledger.Refund, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[params.PaymentIntent]
	if !ok {
		return nil, nil
	}
	refunds := make([]ledger.Refund, len(l.charges[idx].Refunds))
	copy(refunds, l.charges[idx].Refunds)
	return refunds, nil
}

// CreateRefund refunds the full charge amount. A second refund for the
// same charge fails, matching the admin action's full-refund semantics.
func (l *Ledger) CreateRefund(ctx context.Context, params ledger.RefundParams) (ledger.Refund, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[params.PaymentIntent]
	if !ok {
		return ledger.Refund{}, fmt.Errorf("stress ledger: no such payment intent %s", params.PaymentIntent)
	}
	charge := &l.charges[idx]
	if charge.Refunded {
		return ledger.Refund{}, fmt.Errorf("stress ledger: charge %s already refunded", charge.ID)
	}

	refund := ledger.Refund{
		ID:              fmt.Sprintf("re_%06d", idx),
		Amount:          charge.Amount,
		Currency:        charge.Currency,
		Status:          "succeeded",
		Reason:          params.Reason,
		PaymentIntentID: charge.PaymentIntentID,
		Created:         time.Now().Unix(),
	}
	charge.Refunds = append(charge.Refunds, refund)
	charge.Refunded = true
	return refund, nil
}

func (l *Ledger) ListSubscriptions(ctx context.Context, params ledger.SubscriptionListParams) (ledger.SubscriptionPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	page := ledger.SubscriptionPage{}
	if params.Customer != "" {
		if sub, ok := l.subs[params.Customer]; ok {
			page.Subscriptions = append(page.Subscriptions, sub)
		}
		return page, nil
	}
	for _, sub := range l.subs {
		page.Subscriptions = append(page.Subscriptions, sub)
	}
	return page, nil
}

func (l *Ledger) RetrieveSubscription(ctx context.Context, id string) (ledger.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.subs {
		if sub.ID == id {
			return sub, nil
		}
	}
	return ledger.Subscription{}, fmt.Errorf("stress ledger: no such subscription %s", id)
}

func (l *Ledger) CancelSubscription(ctx context.Context, id string) (ledger.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for customer, sub := range l.subs {
		if sub.ID == id {
			sub.Status = "canceled"
			l.subs[customer] = sub
			return sub, nil
		}
	}
	return ledger.Subscription{}, fmt.Errorf("stress ledger: no such subscription %s", id)
}

func (l *Ledger) RetrieveProduct(ctx context.Context, id string) (ledger.Product, error) {
	return ledger.Product{ID: id, Name: "Stress Plan"}, nil
}

func copyCharge(charge ledger.Charge) ledger.Charge {
	out := charge
	out.Refunds = make([]ledger.Refund, len(charge.Refunds))
	copy(out.Refunds, charge.Refunds)
	return out
}

// Feeder keeps new charges flowing into the ledger.
func Feeder(ctx context.Context, led *Ledger, customers []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		led.AddCharge(customers[rand.Intn(len(customers))])
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// BulkSyncer runs forced windowed syncs back to back, racing the other
// syncer instances and the repairer over the same rows.
func BulkSyncer(ctx context.Context, svc *stripesync.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		// Failures are transient under chaos; the next pass retries.
		_, _ = svc.SyncRecentTransactions(ctx, 7, true)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// StaleRepairer sweeps backdated rows concurrently with the bulk sync.
func StaleRepairer(ctx context.Context, svc *stripesync.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = svc.FixStaleTransactions(ctx, 24)
		time.Sleep(time.Duration(100+rand.Intn(150)) * time.Millisecond)
	}
}

// Backdater ages random rows so the repairer always has work.
func Backdater(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `UPDATE transactions SET last_synced_at = last_synced_at - interval '48 hours'
                               WHERE id IN (SELECT id FROM transactions ORDER BY random() LIMIT 5)`)
		time.Sleep(time.Duration(150+rand.Intn(200)) * time.Millisecond)
	}
}

// Refunder issues admin full refunds against open charges. Contention
// errors are expected: another refunder may win the same charge.
func Refunder(ctx context.Context, svc *business.Service, led *Ledger, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if pi := led.RandomOpenIntent(); pi != "" {
			// Already-refunded and transient errors are expected here.
			_, _ = svc.RefundPayment(ctx, "stress-admin", pi)
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// WebhookInjector delivers dispute and refund events, replaying a share
// of them with duplicate event ids to exercise idempotency.
func WebhookInjector(ctx context.Context, handler *stripesync.WebhookHandler, led *Ledger, stop <-chan struct{}) error {
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		pi := led.RandomOpenIntent()
		if pi == "" {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if led.MarkDisputed(pi) {
			seq++
			event := stripesync.WebhookEvent{
				EventID:         fmt.Sprintf("evt_stress_%06d", seq),
				Type:            stripesync.EventDisputeCreated,
				DisputedPayment: pi,
			}
			deliveries := 1 + rand.Intn(2)
			for i := 0; i < deliveries; i++ {
				_ = handler.HandleEvent(ctx, event)
			}
		}
		time.Sleep(time.Duration(150+rand.Intn(200)) * time.Millisecond)
	}
}

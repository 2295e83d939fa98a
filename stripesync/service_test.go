package stripesync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"marvalero/business"
	"marvalero/ledger"
	"marvalero/transaction"
)

func TestSyncRecentTransactions_EndToEnd(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	bizID := bizRepo.seed("Acme Realty", "cus_1")
	txRepo := newFakeTransactionRepo(clock.Now)

	led := &fakeLedger{
		chargePages: []ledger.ChargePage{{
			Charges: []ledger.Charge{{
				ID:              "ch_1",
				PaymentIntentID: "pi_1",
				Amount:          5000,
				Currency:        "usd",
				Status:          "succeeded",
				Customer:        "cus_1",
				ReceiptEmail:    "payer@example.com",
				BillingName:     "Pat Payer",
			}},
		}},
	}

	svc := NewService(led, txRepo, bizRepo).WithClock(clock.Now)
	summary, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if !summary.Success || summary.SyncedCount != 1 || summary.CreatedCount != 1 || summary.UpdatedCount != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec, err := txRepo.GetByExternalID(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if rec.Status != transaction.StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", rec.Status)
	}
	if rec.RefundAmount != 0 {
		t.Errorf("expected refund amount 0, got %d", rec.RefundAmount)
	}
	if rec.BusinessID == nil || *rec.BusinessID != bizID {
		t.Errorf("expected business id %q, got %v", bizID, rec.BusinessID)
	}
	if rec.UserEmail == nil || *rec.UserEmail != "payer@example.com" {
		t.Errorf("expected seeded user email, got %v", rec.UserEmail)
	}
	if rec.UserName == nil || *rec.UserName != "Pat Payer" {
		t.Errorf("expected seeded user name, got %v", rec.UserName)
	}
	if !rec.SyncedFromStripe {
		t.Error("expected synced_from_stripe to be set")
	}
}

func TestSyncRecentTransactions_Idempotent(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	txRepo := newFakeTransactionRepo(clock.Now)

	charge := ledger.Charge{
		ID:              "ch_1",
		PaymentIntentID: "pi_1",
		Amount:          1000,
		Currency:        "usd",
		Status:          "succeeded",
		Refunded:        true,
		Refunds:         []ledger.Refund{{ID: "re_1", Amount: 400}},
	}
	led := &fakeLedger{chargePages: []ledger.ChargePage{{Charges: []ledger.Charge{charge}}}}

	svc := NewService(led, txRepo, bizRepo).WithClock(clock.Now)

	first, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.CreatedCount != 1 {
		t.Fatalf("first sync: expected 1 created, got %+v", first)
	}
	before, _ := txRepo.GetByExternalID(context.Background(), "pi_1")

	clock.Advance(2 * time.Hour)
	led.reset()

	second, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.CreatedCount != 0 || second.UpdatedCount != 1 {
		t.Fatalf("second sync: expected 0 created / 1 updated, got %+v", second)
	}

	after, _ := txRepo.GetByExternalID(context.Background(), "pi_1")
	if after.Status != before.Status || after.RefundAmount != before.RefundAmount || after.Amount != before.Amount {
		t.Fatalf("row drifted across identical syncs: before=%+v after=%+v", before, after)
	}
	if after.Status != transaction.StatusPartiallyRefunded {
		t.Errorf("expected partially_refunded, got %s", after.Status)
	}
}

func TestSyncRecentTransactions_RefundBeatsDispute(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)

	led := &fakeLedger{
		chargePages: []ledger.ChargePage{{
			Charges: []ledger.Charge{{
				ID:       "ch_1",
				Amount:   1000,
				Currency: "usd",
				Status:   "succeeded",
				Disputed: true,
				Refunded: true,
				Refunds:  []ledger.Refund{{ID: "re_1", Amount: 600}, {ID: "re_2", Amount: 400}},
			}},
		}},
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	if _, err := svc.SyncRecentTransactions(context.Background(), 30, true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// No payment intent on the charge, so the charge id is the key.
	rec, err := txRepo.GetByExternalID(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if rec.Status != transaction.StatusRefunded {
		t.Fatalf("disputed-then-refunded charge must display refunded, got %s", rec.Status)
	}
}

func TestSyncRecentTransactions_UnmatchedCustomer(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)

	led := &fakeLedger{
		chargePages: []ledger.ChargePage{{
			Charges: []ledger.Charge{{
				ID:              "ch_1",
				PaymentIntentID: "pi_1",
				Amount:          2500,
				Currency:        "eur",
				Status:          "succeeded",
				Customer:        "cus_unknown",
			}},
		}},
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	summary, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.SyncedCount != 1 || summary.ErrorCount != 0 {
		t.Fatalf("unmatched customer must not drop the row: %+v", summary)
	}

	rec, err := txRepo.GetByExternalID(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if rec.BusinessID != nil {
		t.Fatalf("expected nil business id, got %v", *rec.BusinessID)
	}
}

func TestSyncRecentTransactions_PerItemFaultIsolation(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)
	txRepo.upsertErrOn["pi_5"] = errors.New("boom")

	charges := make([]ledger.Charge, 0, 10)
	for i := 1; i <= 10; i++ {
		charges = append(charges, ledger.Charge{
			ID:              fmt.Sprintf("ch_%d", i),
			PaymentIntentID: fmt.Sprintf("pi_%d", i),
			Amount:          1000,
			Currency:        "usd",
			Status:          "succeeded",
		})
	}
	led := &fakeLedger{chargePages: []ledger.ChargePage{{Charges: charges}}}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	summary, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if summary.ErrorCount != 1 {
		t.Fatalf("expected exactly 1 error, got %d", summary.ErrorCount)
	}
	if summary.SyncedCount != 9 {
		t.Fatalf("expected 9 synced, got %d", summary.SyncedCount)
	}
	for i := 1; i <= 10; i++ {
		key := fmt.Sprintf("pi_%d", i)
		_, err := txRepo.GetByExternalID(context.Background(), key)
		if i == 5 {
			if !errors.Is(err, transaction.ErrNotFound) {
				t.Errorf("expected pi_5 to be absent")
			}
			continue
		}
		if err != nil {
			t.Errorf("expected %s to be stored: %v", key, err)
		}
	}
}

func TestSyncRecentTransactions_PageFetchFailureAborts(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)

	led := &fakeLedger{
		chargePages: []ledger.ChargePage{
			{
				Charges: []ledger.Charge{{ID: "ch_1", PaymentIntentID: "pi_1", Amount: 100, Currency: "usd", Status: "succeeded"}},
				HasMore: true,
			},
		},
		chargeErrs: []error{nil, errors.New("rate limited")},
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	_, err := svc.SyncRecentTransactions(context.Background(), 30, true)
	if err == nil {
		t.Fatal("expected page fetch failure to propagate")
	}

	if got := len(led.chargeCalls); got != 2 {
		t.Fatalf("expected 2 page fetches, got %d", got)
	}
	if cursor := led.chargeCalls[1].StartingAfter; cursor != "ch_1" {
		t.Fatalf("expected cursor ch_1 on second page, got %q", cursor)
	}
}

func TestSyncRecentTransactions_SkipFreshUnlessForced(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)

	charge := ledger.Charge{ID: "ch_1", PaymentIntentID: "pi_1", Amount: 100, Currency: "usd", Status: "succeeded"}
	led := &fakeLedger{chargePages: []ledger.ChargePage{{Charges: []ledger.Charge{charge}}}}
	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)

	if _, err := svc.SyncRecentTransactions(context.Background(), 30, true); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	clock.Advance(time.Hour)
	led.reset()
	summary, err := svc.SyncRecentTransactions(context.Background(), 30, false)
	if err != nil {
		t.Fatalf("fresh sync: %v", err)
	}
	if summary.SkippedCount != 1 || summary.SyncedCount != 0 {
		t.Fatalf("expected fresh row to be skipped: %+v", summary)
	}

	led.reset()
	summary, err = svc.SyncRecentTransactions(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("forced sync: %v", err)
	}
	if summary.SkippedCount != 0 || summary.SyncedCount != 1 {
		t.Fatalf("force must bypass the skip: %+v", summary)
	}
}

func TestFixStaleTransactions_Selection(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)

	staleAt := clock.Now().Add(-25 * time.Hour)
	freshAt := clock.Now().Add(-1 * time.Hour)
	txRepo.seed(transaction.Record{ID: "t1", StripePaymentID: "pi_old", Amount: 1000, Status: transaction.StatusSucceeded, LastSyncedAt: &staleAt})
	txRepo.seed(transaction.Record{ID: "t2", StripePaymentID: "pi_new", Amount: 1000, Status: transaction.StatusSucceeded, LastSyncedAt: &freshAt})

	led := &fakeLedger{
		intents: map[string]ledger.PaymentIntent{
			"pi_old": {ID: "pi_old", Amount: 1000, Status: "succeeded"},
			"pi_new": {ID: "pi_new", Amount: 1000, Status: "succeeded"},
		},
		refunds: map[string][]ledger.Refund{
			"pi_old": {{ID: "re_1", Amount: 250}},
		},
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	summary, err := svc.FixStaleTransactions(context.Background(), 24)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if summary.Checked != 1 || summary.Updated != 1 || summary.Errors != 0 {
		t.Fatalf("expected only the stale row checked: %+v", summary)
	}

	old, _ := txRepo.GetByExternalID(context.Background(), "pi_old")
	if old.Status != transaction.StatusPartiallyRefunded || old.RefundAmount != 250 {
		t.Errorf("stale row not repaired: %+v", old)
	}
	if old.LastSyncedAt == nil || !old.LastSyncedAt.Equal(clock.Now()) {
		t.Errorf("expected last_synced_at refreshed")
	}

	fresh, _ := txRepo.GetByExternalID(context.Background(), "pi_new")
	if fresh.LastSyncedAt == nil || !fresh.LastSyncedAt.Equal(freshAt) {
		t.Errorf("fresh row must be untouched")
	}
}

func TestFixStaleTransactions_NeverSyncedAndFaultIsolation(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)
	txRepo.seed(transaction.Record{ID: "t1", StripePaymentID: "pi_never", Amount: 500, Status: transaction.StatusProcessing})
	txRepo.seed(transaction.Record{ID: "t2", StripePaymentID: "pi_gone", Amount: 700, Status: transaction.StatusSucceeded})

	led := &fakeLedger{
		intents: map[string]ledger.PaymentIntent{
			"pi_never": {ID: "pi_never", Amount: 500, Status: "succeeded"},
		},
		intentErrs: map[string]error{
			"pi_gone": errors.New("no such payment intent"),
		},
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	summary, err := svc.FixStaleTransactions(context.Background(), 24)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if summary.Checked != 2 || summary.Updated != 1 || summary.Errors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec, _ := txRepo.GetByExternalID(context.Background(), "pi_never")
	if rec.Status != transaction.StatusSucceeded {
		t.Errorf("never-synced row should be repaired, got %s", rec.Status)
	}
}

func TestFixStaleTransactions_RateLimitStopsSweep(t *testing.T) {
	clock := newFakeClock()
	txRepo := newFakeTransactionRepo(clock.Now)
	led := &fakeLedger{intentErrs: map[string]error{}}
	throttled := &ledger.APIError{StatusCode: 429, Code: "rate_limit", Message: "Too many requests"}
	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("pi_%d", i)
		txRepo.seed(transaction.Record{ID: fmt.Sprintf("t%d", i), StripePaymentID: key, Amount: 100, Status: transaction.StatusSucceeded})
		led.intentErrs[key] = throttled
	}

	svc := NewService(led, txRepo, newFakeBusinessRepo()).WithClock(clock.Now)
	summary, err := svc.FixStaleTransactions(context.Background(), 24)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}

	// Unlike an ordinary per-row failure, throttling ends the sweep: one
	// error is recorded and the remaining rows wait for the next run.
	if summary.Checked != 5 || summary.Updated != 0 || summary.Errors != 1 {
		t.Fatalf("expected the sweep to stop at the first throttled row: %+v", summary)
	}
	if len(led.intentCalls) != 1 {
		t.Fatalf("expected a single ledger call after throttling, got %d", len(led.intentCalls))
	}
}

func TestSyncBusinessSubscription_NoSubscriptionClears(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	bizID := bizRepo.seed("Acme Realty", "cus_1")
	sub := "sub_old"
	status := "active"
	plan := "Pro"
	bizRepo.setSubscription(bizID, business.SubscriptionFields{
		StripeSubscriptionID: &sub,
		SubscriptionStatus:   &status,
		SubscriptionPlan:     &plan,
	})

	led := &fakeLedger{}
	svc := NewService(led, newFakeTransactionRepo(clock.Now), bizRepo).WithClock(clock.Now)

	result, err := svc.SyncBusinessSubscription(context.Background(), bizID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Status != "no_subscription" {
		t.Fatalf("expected no_subscription, got %q", result.Status)
	}

	biz, _ := bizRepo.GetByID(context.Background(), bizID)
	if biz.StripeSubscriptionID != nil || biz.SubscriptionStatus != nil || biz.SubscriptionPlan != nil {
		t.Fatalf("expected cleared subscription fields, got %+v", biz)
	}
}

func TestSyncBusinessSubscription_NoCustomerID(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	bizID := bizRepo.seed("No Stripe Inc", "")

	svc := NewService(&fakeLedger{}, newFakeTransactionRepo(clock.Now), bizRepo).WithClock(clock.Now)
	if _, err := svc.SyncBusinessSubscription(context.Background(), bizID); err == nil {
		t.Fatal("expected error for business without a ledger customer id")
	}
}

func TestSyncBusinessSubscription_UpsertsPlanAndStatus(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	bizID := bizRepo.seed("Acme Realty", "cus_1")

	led := &fakeLedger{
		subsByCustomer: map[string][]ledger.Subscription{
			"cus_1": {{
				ID:       "sub_1",
				Customer: "cus_1",
				Status:   "past_due",
				Items: []ledger.SubscriptionItem{{
					Plan: ledger.Plan{ID: "plan_1", ProductID: "prod_1"},
				}},
			}},
		},
		products: map[string]ledger.Product{
			"prod_1": {ID: "prod_1", Name: "Marvalero Pro"},
		},
	}

	svc := NewService(led, newFakeTransactionRepo(clock.Now), bizRepo).WithClock(clock.Now)
	result, err := svc.SyncBusinessSubscription(context.Background(), bizID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.Success || result.Status != "past_due" || result.Plan != "Marvalero Pro" {
		t.Fatalf("unexpected result: %+v", result)
	}

	biz, _ := bizRepo.GetByID(context.Background(), bizID)
	if biz.StripeSubscriptionID == nil || *biz.StripeSubscriptionID != "sub_1" {
		t.Errorf("expected subscription id mirrored, got %+v", biz.StripeSubscriptionID)
	}
	if biz.SubscriptionStatus == nil || *biz.SubscriptionStatus != "past_due" {
		t.Errorf("expected verbatim status, got %+v", biz.SubscriptionStatus)
	}
}

func TestSyncAllSubscriptions_PlanResolutionAndSkips(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	withNickname := bizRepo.seed("Nickname Co", "cus_nick")
	withProductErr := bizRepo.seed("Fallback Co", "cus_fallback")

	led := &fakeLedger{
		subPages: []ledger.SubscriptionPage{{
			Subscriptions: []ledger.Subscription{
				{
					ID:       "sub_nick",
					Customer: "cus_nick",
					Status:   "active",
					Items:    []ledger.SubscriptionItem{{Plan: ledger.Plan{ID: "plan_a", Nickname: "Starter"}}},
				},
				{
					ID:       "sub_fallback",
					Customer: "cus_fallback",
					Status:   "trialing",
					Items:    []ledger.SubscriptionItem{{Plan: ledger.Plan{ID: "plan_b", ProductID: "prod_missing"}}},
				},
				{
					ID:       "sub_stranger",
					Customer: "cus_stranger",
					Status:   "active",
				},
			},
		}},
		productErrs: map[string]error{
			"prod_missing": errors.New("product lookup failed"),
		},
	}

	svc := NewService(led, newFakeTransactionRepo(clock.Now), bizRepo).WithClock(clock.Now)
	summary, err := svc.SyncAllSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.SyncedCount != 2 || summary.SkippedCount != 1 || summary.ErrorCount != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	nick, _ := bizRepo.GetByID(context.Background(), withNickname)
	if nick.SubscriptionPlan == nil || *nick.SubscriptionPlan != "Starter" {
		t.Errorf("expected nickname plan, got %+v", nick.SubscriptionPlan)
	}

	// Cosmetic product failure falls back to the raw plan id.
	fb, _ := bizRepo.GetByID(context.Background(), withProductErr)
	if fb.SubscriptionPlan == nil || *fb.SubscriptionPlan != "plan_b" {
		t.Errorf("expected raw plan id fallback, got %+v", fb.SubscriptionPlan)
	}
}

func TestFixStaleSubscriptions_RepairsUnreconciled(t *testing.T) {
	clock := newFakeClock()
	bizRepo := newFakeBusinessRepo()
	bizID := bizRepo.seed("Acme Realty", "cus_1")
	sub := "sub_1"
	bizRepo.setSubscription(bizID, business.SubscriptionFields{StripeSubscriptionID: &sub})

	led := &fakeLedger{
		subsByCustomer: map[string][]ledger.Subscription{
			"cus_1": {{
				ID:       "sub_1",
				Customer: "cus_1",
				Status:   "active",
				Items:    []ledger.SubscriptionItem{{Plan: ledger.Plan{ID: "plan_1", Nickname: "Pro"}}},
			}},
		},
	}

	svc := NewService(led, newFakeTransactionRepo(clock.Now), bizRepo).WithClock(clock.Now)
	summary, err := svc.FixStaleSubscriptions(context.Background(), 24)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if summary.Checked != 1 || summary.Updated != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	biz, _ := bizRepo.GetByID(context.Background(), bizID)
	if biz.SubscriptionStatus == nil || *biz.SubscriptionStatus != "active" {
		t.Fatalf("expected reconciled status, got %+v", biz.SubscriptionStatus)
	}
}

// --- fakes ---

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeLedger struct {
	chargePages []ledger.ChargePage
	chargeErrs  []error
	chargeCalls []ledger.ChargeListParams

	subPages       []ledger.SubscriptionPage
	subCalls       []ledger.SubscriptionListParams
	subsByCustomer map[string][]ledger.Subscription

	intents     map[string]ledger.PaymentIntent
	intentErrs  map[string]error
	intentCalls []string

	refunds    map[string][]ledger.Refund
	refundErrs map[string]error

	products    map[string]ledger.Product
	productErrs map[string]error
}

// reset clears call history so the same scripted pages replay.
func (f *fakeLedger) reset() {
	f.chargeCalls = nil
	f.subCalls = nil
}

func (f *fakeLedger) ListCharges(ctx context.Context, params ledger.ChargeListParams) (ledger.ChargePage, error) {
	idx := len(f.chargeCalls)
	f.chargeCalls = append(f.chargeCalls, params)
	if idx < len(f.chargeErrs) && f.chargeErrs[idx] != nil {
		return ledger.ChargePage{}, f.chargeErrs[idx]
	}
	if idx < len(f.chargePages) {
		return f.chargePages[idx], nil
	}
	return ledger.ChargePage{}, nil
}

func (f *fakeLedger) RetrievePaymentIntent(ctx context.Context, id string) (ledger.PaymentIntent, error) {
	f.intentCalls = append(f.intentCalls, id)
	if err, ok := f.intentErrs[id]; ok {
		return ledger.PaymentIntent{}, err
	}
	pi, ok := f.intents[id]
	if !ok {
		return ledger.PaymentIntent{}, fmt.Errorf("fake ledger: no intent %s", id)
	}
	return pi, nil
}

func (f *fakeLedger) ListRefunds(ctx context.Context, params ledger.RefundListParams) ([]ledger.Refund, error) {
	if err, ok := f.refundErrs[params.PaymentIntent]; ok {
		return nil, err
	}
	return f.refunds[params.PaymentIntent], nil
}

func (f *fakeLedger) CreateRefund(ctx context.Context, params ledger.RefundParams) (ledger.Refund, error) {
	return ledger.Refund{ID: "re_new", PaymentIntentID: params.PaymentIntent, Status: "succeeded"}, nil
}

func (f *fakeLedger) ListSubscriptions(ctx context.Context, params ledger.SubscriptionListParams) (ledger.SubscriptionPage, error) {
	f.subCalls = append(f.subCalls, params)
	if params.Customer != "" {
		return ledger.SubscriptionPage{Subscriptions: f.subsByCustomer[params.Customer]}, nil
	}
	idx := 0
	for _, call := range f.subCalls[:len(f.subCalls)-1] {
		if call.Customer == "" {
			idx++
		}
	}
	if idx < len(f.subPages) {
		return f.subPages[idx], nil
	}
	return ledger.SubscriptionPage{}, nil
}

func (f *fakeLedger) RetrieveSubscription(ctx context.Context, id string) (ledger.Subscription, error) {
	return ledger.Subscription{}, fmt.Errorf("fake ledger: retrieve subscription unsupported")
}

func (f *fakeLedger) CancelSubscription(ctx context.Context, id string) (ledger.Subscription, error) {
	return ledger.Subscription{ID: id, Status: "canceled"}, nil
}

func (f *fakeLedger) RetrieveProduct(ctx context.Context, id string) (ledger.Product, error) {
	if err, ok := f.productErrs[id]; ok {
		return ledger.Product{}, err
	}
	p, ok := f.products[id]
	if !ok {
		return ledger.Product{}, fmt.Errorf("fake ledger: no product %s", id)
	}
	return p, nil
}

type fakeTransactionRepo struct {
	rows        map[string]transaction.Record
	upsertErrOn map[string]error
	now         func() time.Time
	seq         int
}

func newFakeTransactionRepo(now func() time.Time) *fakeTransactionRepo {
	return &fakeTransactionRepo{
		rows:        make(map[string]transaction.Record),
		upsertErrOn: make(map[string]error),
		now:         now,
	}
}

func (f *fakeTransactionRepo) seed(rec transaction.Record) {
	f.rows[rec.StripePaymentID] = rec
}

func (f *fakeTransactionRepo) Upsert(ctx context.Context, params transaction.UpsertParams) (transaction.Record, error) {
	if err, ok := f.upsertErrOn[params.StripePaymentID]; ok {
		return transaction.Record{}, err
	}

	now := f.now()
	existing, ok := f.rows[params.StripePaymentID]
	if !ok {
		f.seq++
		lastSynced := params.LastSyncedAt
		rec := transaction.Record{
			ID:               fmt.Sprintf("tx-%d", f.seq),
			StripePaymentID:  params.StripePaymentID,
			Amount:           params.Amount,
			RefundAmount:     params.RefundAmount,
			Currency:         params.Currency,
			Status:           params.Status,
			Description:      params.Description,
			Metadata:         params.Metadata,
			BusinessID:       params.BusinessID,
			UserName:         params.UserName,
			UserEmail:        params.UserEmail,
			LastSyncedAt:     &lastSynced,
			SyncedFromStripe: params.SyncedFromStripe,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		f.rows[params.StripePaymentID] = rec
		return rec, nil
	}

	existing.Amount = params.Amount
	existing.RefundAmount = params.RefundAmount
	existing.Currency = params.Currency
	existing.Status = params.Status
	existing.Description = params.Description
	existing.Metadata = params.Metadata
	if params.BusinessID != nil {
		existing.BusinessID = params.BusinessID
	}
	lastSynced := params.LastSyncedAt
	existing.LastSyncedAt = &lastSynced
	existing.SyncedFromStripe = params.SyncedFromStripe
	existing.UpdatedAt = now
	f.rows[params.StripePaymentID] = existing
	return existing, nil
}

func (f *fakeTransactionRepo) GetByExternalID(ctx context.Context, stripePaymentID string) (transaction.Record, error) {
	rec, ok := f.rows[stripePaymentID]
	if !ok {
		return transaction.Record{}, transaction.ErrNotFound
	}
	return rec, nil
}

func (f *fakeTransactionRepo) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]transaction.Record, error) {
	stale := []transaction.Record{}
	for _, rec := range f.rows {
		if rec.LastSyncedAt == nil || rec.LastSyncedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
		if len(stale) == limit {
			break
		}
	}
	return stale, nil
}

func (f *fakeTransactionRepo) UpdateFromLedger(ctx context.Context, id string, update transaction.LedgerUpdate) error {
	for key, rec := range f.rows {
		if rec.ID != id {
			continue
		}
		rec.Status = update.Status
		rec.Amount = update.Amount
		rec.RefundAmount = update.RefundAmount
		lastSynced := update.LastSyncedAt
		rec.LastSyncedAt = &lastSynced
		rec.UpdatedAt = f.now()
		f.rows[key] = rec
		return nil
	}
	return transaction.ErrNotFound
}

func (f *fakeTransactionRepo) UpdateStatusByExternalID(ctx context.Context, stripePaymentID string, status transaction.Status, refundAmount *int64) error {
	rec, ok := f.rows[stripePaymentID]
	if !ok {
		return transaction.ErrNotFound
	}
	rec.Status = status
	if refundAmount != nil {
		rec.RefundAmount = *refundAmount
	}
	rec.UpdatedAt = f.now()
	f.rows[stripePaymentID] = rec
	return nil
}

func (f *fakeTransactionRepo) List(ctx context.Context, params transaction.ListParams) ([]transaction.Record, error) {
	list := []transaction.Record{}
	for _, rec := range f.rows {
		list = append(list, rec)
	}
	return list, nil
}

func (f *fakeTransactionRepo) Stats(ctx context.Context) (transaction.Stats, error) {
	var s transaction.Stats
	for _, rec := range f.rows {
		s.TotalTransactions++
		s.TotalVolume += rec.Amount
		s.TotalRefunded += rec.RefundAmount
		if rec.Status == transaction.StatusSucceeded {
			s.CompletedRevenue += rec.Amount
		}
	}
	return s, nil
}

type fakeBusinessRepo struct {
	rows map[string]business.Record
	seq  int
}

func newFakeBusinessRepo() *fakeBusinessRepo {
	return &fakeBusinessRepo{rows: make(map[string]business.Record)}
}

func (f *fakeBusinessRepo) seed(name, customerID string) string {
	f.seq++
	id := fmt.Sprintf("biz-%d", f.seq)
	rec := business.Record{ID: id, Name: name}
	if customerID != "" {
		rec.StripeCustomerID = &customerID
	}
	f.rows[id] = rec
	return id
}

func (f *fakeBusinessRepo) setSubscription(id string, fields business.SubscriptionFields) {
	rec := f.rows[id]
	rec.StripeSubscriptionID = fields.StripeSubscriptionID
	rec.SubscriptionStatus = fields.SubscriptionStatus
	rec.SubscriptionPlan = fields.SubscriptionPlan
	f.rows[id] = rec
}

func (f *fakeBusinessRepo) GetByID(ctx context.Context, id string) (business.Record, error) {
	rec, ok := f.rows[id]
	if !ok {
		return business.Record{}, business.ErrNotFound
	}
	return rec, nil
}

func (f *fakeBusinessRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (business.Record, error) {
	for _, rec := range f.rows {
		if rec.StripeCustomerID != nil && *rec.StripeCustomerID == customerID {
			return rec, nil
		}
	}
	return business.Record{}, business.ErrNotFound
}

func (f *fakeBusinessRepo) List(ctx context.Context) ([]business.Record, error) {
	list := []business.Record{}
	for _, rec := range f.rows {
		list = append(list, rec)
	}
	return list, nil
}

func (f *fakeBusinessRepo) UpdateSubscription(ctx context.Context, id string, fields business.SubscriptionFields) error {
	if _, ok := f.rows[id]; !ok {
		return business.ErrNotFound
	}
	f.setSubscription(id, fields)
	return nil
}

func (f *fakeBusinessRepo) FindUnreconciled(ctx context.Context, limit int) ([]business.Record, error) {
	list := []business.Record{}
	for _, rec := range f.rows {
		if rec.StripeCustomerID != nil && rec.StripeSubscriptionID != nil && rec.SubscriptionStatus == nil {
			list = append(list, rec)
		}
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

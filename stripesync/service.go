package stripesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"marvalero/business"
	"marvalero/ledger"
	"marvalero/transaction"
)

const (
	defaultWindowDays = 30
	defaultStaleHours = 24

	// freshness horizon for skip-if-fresh on non-forced syncs
	freshWindow = 24 * time.Hour

	staleTransactionBatch  = 100
	staleSubscriptionBatch = 50
)

// TransactionSyncSummary reports one windowed bulk sync run.
type TransactionSyncSummary struct {
	Success      bool
	Message      string
	SyncedCount  int
	CreatedCount int
	UpdatedCount int
	SkippedCount int
	ErrorCount   int
}

// SubscriptionSyncSummary reports one full subscription walk.
type SubscriptionSyncSummary struct {
	Success      bool
	SyncedCount  int
	SkippedCount int
	ErrorCount   int
}

// BusinessSubscriptionResult reports a targeted single-business sync.
// Status "no_subscription" is a normal outcome, not an error.
type BusinessSubscriptionResult struct {
	Success bool
	Status  string
	Plan    string
}

// RepairSummary reports one staleness sweep.
type RepairSummary struct {
	Checked int
	Updated int
	Errors  int
}

// Service is the reconciliation engine: the only writer that bulk-syncs
// the local store from the ledger. All operations are sequential batch
// jobs; correctness under racing invocations comes from idempotent
// upserts keyed on the external payment id, not from locking.
type Service struct {
	ledger       ledger.Client
	transactions transaction.Repository
	businesses   business.Repository
	now          func() time.Time
}

func NewService(ledgerClient ledger.Client, transactions transaction.Repository, businesses business.Repository) *Service {
	return &Service{
		ledger:       ledgerClient,
		transactions: transactions,
		businesses:   businesses,
		now:          time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SyncRecentTransactions pulls every ledger charge created within the
// last windowDays days and upserts it into the local store. A failure
// on a single charge is logged and skipped; a failed page fetch aborts
// the run. Unless force is set, rows already synced within the last 24
// hours are skipped.
func (s *Service) SyncRecentTransactions(ctx context.Context, windowDays int, force bool) (TransactionSyncSummary, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	cutoff := s.now().AddDate(0, 0, -windowDays).Unix()

	var summary TransactionSyncSummary
	var cursor string

	for {
		page, err := s.ledger.ListCharges(ctx, ledger.ChargeListParams{
			CreatedSince:  cutoff,
			StartingAfter: cursor,
			Limit:         100,
		})
		if err != nil {
			return TransactionSyncSummary{}, fmt.Errorf("stripesync: list charges: %w", err)
		}

		for _, charge := range page.Charges {
			created, skipped, err := s.syncCharge(ctx, charge, force)
			if err != nil {
				log.Printf("stripesync: upsert charge %s: %v", charge.ID, err)
				summary.ErrorCount++
				continue
			}
			if skipped {
				summary.SkippedCount++
				continue
			}
			summary.SyncedCount++
			if created {
				summary.CreatedCount++
			} else {
				summary.UpdatedCount++
			}
		}

		if !page.HasMore || len(page.Charges) == 0 {
			break
		}
		// Opaque pagination cursor: the last item's id, never parsed.
		cursor = page.Charges[len(page.Charges)-1].ID
	}

	summary.Success = true
	summary.Message = fmt.Sprintf("Synced %d transactions (%d created, %d updated)",
		summary.SyncedCount, summary.CreatedCount, summary.UpdatedCount)

	// Courtesy full pass so subscription drift is corrected alongside
	// transaction drift. Its failure does not invalidate the completed
	// transaction sync.
	if _, err := s.SyncAllSubscriptions(ctx); err != nil {
		log.Printf("stripesync: subscription pass after transaction sync: %v", err)
	}

	return summary, nil
}

func (s *Service) syncCharge(ctx context.Context, charge ledger.Charge, force bool) (created, skipped bool, err error) {
	externalID := charge.PaymentIntentID
	if externalID == "" {
		externalID = charge.ID
	}

	if !force {
		existing, err := s.transactions.GetByExternalID(ctx, externalID)
		switch {
		case err == nil:
			if existing.LastSyncedAt != nil && s.now().Sub(*existing.LastSyncedAt) < freshWindow {
				return false, true, nil
			}
		case errors.Is(err, transaction.ErrNotFound):
			// first sighting
		default:
			return false, false, err
		}
	}

	var businessID *string
	if charge.Customer != "" {
		biz, err := s.businesses.FindByStripeCustomerID(ctx, charge.Customer)
		switch {
		case err == nil:
			businessID = &biz.ID
		case errors.Is(err, business.ErrNotFound):
			// Not an error: the row is stored without an owning business.
		default:
			return false, false, err
		}
	}

	var refundTotal int64
	if charge.Refunded {
		for _, refund := range charge.Refunds {
			refundTotal += refund.Amount
		}
	}
	status := transaction.DeriveStatus(transaction.Status(charge.Status), charge.Amount, refundTotal, charge.Disputed)

	rec, err := s.transactions.Upsert(ctx, transaction.UpsertParams{
		StripePaymentID:  externalID,
		Amount:           charge.Amount,
		RefundAmount:     refundTotal,
		Currency:         charge.Currency,
		Status:           status,
		Description:      optional(charge.Description),
		Metadata:         charge.Metadata,
		BusinessID:       businessID,
		UserName:         optional(firstNonEmpty(charge.BillingName, charge.Metadata["userName"])),
		UserEmail:        optional(charge.ReceiptEmail),
		LastSyncedAt:     s.now(),
		SyncedFromStripe: true,
	})
	if err != nil {
		return false, false, err
	}

	// A freshly inserted row carries matching timestamps; updates move
	// updated_at forward.
	age := rec.UpdatedAt.Sub(rec.CreatedAt)
	if age < 0 {
		age = -age
	}
	return age < time.Second, false, nil
}

// SyncAllSubscriptions walks every ledger subscription regardless of
// status and mirrors plan and status onto the owning business.
// Subscriptions whose customer matches no stored business are skipped.
func (s *Service) SyncAllSubscriptions(ctx context.Context) (SubscriptionSyncSummary, error) {
	var summary SubscriptionSyncSummary
	var cursor string

	for {
		page, err := s.ledger.ListSubscriptions(ctx, ledger.SubscriptionListParams{
			Status:        "all",
			StartingAfter: cursor,
			Limit:         100,
		})
		if err != nil {
			return SubscriptionSyncSummary{}, fmt.Errorf("stripesync: list subscriptions: %w", err)
		}

		for _, sub := range page.Subscriptions {
			biz, err := s.businesses.FindByStripeCustomerID(ctx, sub.Customer)
			if errors.Is(err, business.ErrNotFound) {
				summary.SkippedCount++
				continue
			}
			if err != nil {
				log.Printf("stripesync: find business for customer %s: %v", sub.Customer, err)
				summary.ErrorCount++
				continue
			}

			if err := s.applySubscription(ctx, biz.ID, sub); err != nil {
				log.Printf("stripesync: update subscription for business %s: %v", biz.ID, err)
				summary.ErrorCount++
				continue
			}
			summary.SyncedCount++
		}

		if !page.HasMore || len(page.Subscriptions) == 0 {
			break
		}
		cursor = page.Subscriptions[len(page.Subscriptions)-1].ID
	}

	summary.Success = true
	return summary, nil
}

// SyncBusinessSubscription mirrors the ledger subscription state for a
// single business. Zero subscriptions at the ledger clears the cached
// fields and reports no_subscription.
func (s *Service) SyncBusinessSubscription(ctx context.Context, businessID string) (BusinessSubscriptionResult, error) {
	biz, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		return BusinessSubscriptionResult{}, err
	}
	if biz.StripeCustomerID == nil || *biz.StripeCustomerID == "" {
		return BusinessSubscriptionResult{}, fmt.Errorf("stripesync: business %s has no ledger customer id", businessID)
	}

	page, err := s.ledger.ListSubscriptions(ctx, ledger.SubscriptionListParams{
		Status:   "all",
		Customer: *biz.StripeCustomerID,
		Limit:    1,
	})
	if err != nil {
		return BusinessSubscriptionResult{}, fmt.Errorf("stripesync: list subscriptions for %s: %w", businessID, err)
	}

	if len(page.Subscriptions) == 0 {
		if err := s.businesses.UpdateSubscription(ctx, businessID, business.SubscriptionFields{}); err != nil {
			return BusinessSubscriptionResult{}, err
		}
		return BusinessSubscriptionResult{Success: true, Status: "no_subscription"}, nil
	}

	sub := page.Subscriptions[0]
	if err := s.applySubscription(ctx, businessID, sub); err != nil {
		return BusinessSubscriptionResult{}, err
	}
	return BusinessSubscriptionResult{
		Success: true,
		Status:  sub.Status,
		Plan:    s.resolvePlanName(ctx, sub),
	}, nil
}

func (s *Service) applySubscription(ctx context.Context, businessID string, sub ledger.Subscription) error {
	plan := s.resolvePlanName(ctx, sub)
	subID := sub.ID
	status := sub.Status
	fields := business.SubscriptionFields{
		StripeSubscriptionID: &subID,
		SubscriptionStatus:   &status,
	}
	if plan != "" {
		fields.SubscriptionPlan = &plan
	}
	return s.businesses.UpdateSubscription(ctx, businessID, fields)
}

// resolvePlanName prefers the plan nickname, then the linked product's
// name. A failed product lookup is cosmetic: log a warning and fall
// back to the raw plan id.
func (s *Service) resolvePlanName(ctx context.Context, sub ledger.Subscription) string {
	if len(sub.Items) == 0 {
		return ""
	}
	plan := sub.Items[0].Plan
	if plan.Nickname != "" {
		return plan.Nickname
	}
	if plan.ProductID != "" {
		product, err := s.ledger.RetrieveProduct(ctx, plan.ProductID)
		if err != nil {
			log.Printf("stripesync: resolve product %s for subscription %s: %v", plan.ProductID, sub.ID, err)
			return plan.ID
		}
		if product.Name != "" {
			return product.Name
		}
	}
	return plan.ID
}

// FixStaleTransactions re-fetches up to 100 rows whose last sync is
// older than the given horizon, catching drift the windowed sync missed
// (e.g. a refund posted long after the charge left the sync window).
// A rate-limited ledger response ends the sweep early.
func (s *Service) FixStaleTransactions(ctx context.Context, hours int) (RepairSummary, error) {
	if hours <= 0 {
		hours = defaultStaleHours
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)

	stale, err := s.transactions.FindStale(ctx, cutoff, staleTransactionBatch)
	if err != nil {
		return RepairSummary{}, fmt.Errorf("stripesync: find stale transactions: %w", err)
	}

	summary := RepairSummary{Checked: len(stale)}
	for _, rec := range stale {
		if err := s.repairTransaction(ctx, rec); err != nil {
			summary.Errors++
			// A throttled ledger ends the sweep; the remaining rows stay
			// stale and the next run picks them up.
			if ledger.IsRateLimited(err) {
				log.Printf("stripesync: rate limited during stale repair after %d rows: %v",
					summary.Updated+summary.Errors, err)
				break
			}
			log.Printf("stripesync: fix stale transaction %s: %v", rec.StripePaymentID, err)
			continue
		}
		summary.Updated++
	}

	if subSummary, err := s.FixStaleSubscriptions(ctx, hours); err != nil {
		log.Printf("stripesync: subscription repair after transaction repair: %v", err)
	} else {
		log.Printf("stripesync: subscription repair checked=%d updated=%d errors=%d",
			subSummary.Checked, subSummary.Updated, subSummary.Errors)
	}

	return summary, nil
}

func (s *Service) repairTransaction(ctx context.Context, rec transaction.Record) error {
	pi, err := s.ledger.RetrievePaymentIntent(ctx, rec.StripePaymentID)
	if err != nil {
		return err
	}

	status := transaction.Status(pi.Status)
	var refundTotal int64

	if pi.Status == string(transaction.StatusSucceeded) {
		refunds, err := s.ledger.ListRefunds(ctx, ledger.RefundListParams{
			PaymentIntent: pi.ID,
			Limit:         10,
		})
		if err != nil {
			return err
		}
		for _, refund := range refunds {
			refundTotal += refund.Amount
		}
		status = transaction.DeriveStatus(status, pi.Amount, refundTotal, false)
	}

	return s.transactions.UpdateFromLedger(ctx, rec.ID, transaction.LedgerUpdate{
		Status:       status,
		Amount:       pi.Amount,
		RefundAmount: refundTotal,
		LastSyncedAt: s.now(),
	})
}

// FixStaleSubscriptions re-syncs up to 50 businesses that are linked to
// the ledger but whose subscription status was never mirrored.
func (s *Service) FixStaleSubscriptions(ctx context.Context, hours int) (RepairSummary, error) {
	unreconciled, err := s.businesses.FindUnreconciled(ctx, staleSubscriptionBatch)
	if err != nil {
		return RepairSummary{}, fmt.Errorf("stripesync: find unreconciled businesses: %w", err)
	}

	summary := RepairSummary{Checked: len(unreconciled)}
	for _, biz := range unreconciled {
		if _, err := s.SyncBusinessSubscription(ctx, biz.ID); err != nil {
			log.Printf("stripesync: fix stale subscription for business %s: %v", biz.ID, err)
			summary.Errors++
			continue
		}
		summary.Updated++
	}
	return summary, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

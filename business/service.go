package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marvalero/ledger"
	"marvalero/transaction"
)

var (
	// ErrNotRefundable signals the payment is not in a refundable state.
	ErrNotRefundable = errors.New("business: payment not refundable")
	// ErrSubscriptionNotLinked signals the business has no subscription on file.
	ErrSubscriptionNotLinked = errors.New("business: subscription not linked")
)

// AuditWriter records admin actions. Optional; a nil writer disables
// audit logging.
type AuditWriter interface {
	Record(ctx context.Context, adminID, actionType string, targetID *string, metadata map[string]any) error
}

// Service is the admin action/query layer. Actions (refund, cancel)
// call the ledger directly and then correct the local store in place so
// the admin never sees stale state right after acting. Bulk sync stays
// the job of the reconciliation engine.
type Service struct {
	repo         Repository
	transactions transaction.Repository
	ledger       ledger.Client
	audit        AuditWriter
	now          func() time.Time
}

func NewService(repo Repository, transactions transaction.Repository, ledgerClient ledger.Client) *Service {
	return &Service{
		repo:         repo,
		transactions: transactions,
		ledger:       ledgerClient,
		now:          time.Now,
	}
}

func (s *Service) WithAuditWriter(w AuditWriter) *Service {
	s.audit = w
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) ListBusinesses(ctx context.Context) ([]Record, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetBusiness(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

// RefundResult reports a completed admin refund.
type RefundResult struct {
	RefundID string
	Amount   int64
	Currency string
	Status   string
}

// RefundPayment refunds a succeeded payment at the ledger and writes the
// result back into the local cache immediately.
func (s *Service) RefundPayment(ctx context.Context, adminID, paymentIntentID string) (RefundResult, error) {
	if paymentIntentID == "" {
		return RefundResult{}, fmt.Errorf("business: refund missing payment intent id")
	}

	pi, err := s.ledger.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return RefundResult{}, fmt.Errorf("business: retrieve payment %s: %w", paymentIntentID, err)
	}
	if pi.Status != string(transaction.StatusSucceeded) {
		return RefundResult{}, fmt.Errorf("%w: status %s", ErrNotRefundable, pi.Status)
	}

	// Optimistic local update; a missing row just means the sync engine
	// has not seen this charge yet.
	if err := s.transactions.UpdateStatusByExternalID(ctx, paymentIntentID, transaction.StatusRefundPending, nil); err != nil && !errors.Is(err, transaction.ErrNotFound) {
		return RefundResult{}, err
	}

	refund, err := s.ledger.CreateRefund(ctx, ledger.RefundParams{
		PaymentIntent: paymentIntentID,
		Reason:        "requested_by_customer",
	})
	if err != nil {
		return RefundResult{}, fmt.Errorf("business: create refund %s: %w", paymentIntentID, err)
	}

	err = s.transactions.UpdateStatusByExternalID(ctx, paymentIntentID, transaction.StatusRefunded, &refund.Amount)
	if errors.Is(err, transaction.ErrNotFound) {
		// First sighting through an admin action rather than the sync
		// engine; create the row directly.
		_, err = s.transactions.Upsert(ctx, transaction.UpsertParams{
			StripePaymentID:  paymentIntentID,
			Amount:           pi.Amount,
			RefundAmount:     refund.Amount,
			Currency:         pi.Currency,
			Status:           transaction.DeriveStatus(transaction.Status(pi.Status), pi.Amount, refund.Amount, false),
			Metadata:         pi.Metadata,
			LastSyncedAt:     s.now(),
			SyncedFromStripe: false,
		})
	}
	if err != nil {
		return RefundResult{}, err
	}

	s.writeAudit(ctx, adminID, "REFUND_PAYMENT", nil, map[string]any{
		"payment_intent_id": paymentIntentID,
		"refund_id":         refund.ID,
		"amount":            refund.Amount,
	})

	return RefundResult{
		RefundID: refund.ID,
		Amount:   refund.Amount,
		Currency: refund.Currency,
		Status:   refund.Status,
	}, nil
}

// CancelResult reports a subscription cancellation.
type CancelResult struct {
	Success bool
	Status  string
}

// CancelSubscription cancels the business's subscription at the ledger,
// clears the local subscription id, and records the returned status.
func (s *Service) CancelSubscription(ctx context.Context, adminID, businessID string) (CancelResult, error) {
	biz, err := s.repo.GetByID(ctx, businessID)
	if err != nil {
		return CancelResult{}, err
	}
	if biz.StripeSubscriptionID == nil || *biz.StripeSubscriptionID == "" {
		return CancelResult{}, ErrSubscriptionNotLinked
	}

	canceled, err := s.ledger.CancelSubscription(ctx, *biz.StripeSubscriptionID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("business: cancel subscription %s: %w", *biz.StripeSubscriptionID, err)
	}

	status := canceled.Status
	if err := s.repo.UpdateSubscription(ctx, businessID, SubscriptionFields{
		StripeSubscriptionID: nil,
		SubscriptionStatus:   &status,
		SubscriptionPlan:     biz.SubscriptionPlan,
	}); err != nil {
		return CancelResult{}, err
	}

	s.writeAudit(ctx, adminID, "CANCEL_SUBSCRIPTION", &businessID, map[string]any{
		"subscription_status": status,
	})

	return CancelResult{Success: true, Status: status}, nil
}

// Payment is the admin-facing view over a cached transaction row. The
// business join is preferred for identity; the denormalized row fields
// cover charges whose customer matched no stored business.
type Payment struct {
	ID              string
	StripePaymentID string
	Description     string
	Amount          int64
	RefundAmount    int64
	Currency        string
	Status          transaction.Status
	Refunded        bool
	UserName        string
	UserEmail       string
	BusinessID      string
	BusinessName    string
	CreatedAt       time.Time
}

// PaymentPage is one keyset-paginated page of payments.
type PaymentPage struct {
	Payments   []Payment
	HasMore    bool
	NextCursor string
}

// ListPayments reads the local cache only; no ledger round-trips on
// admin page views.
func (s *Service) ListPayments(ctx context.Context, limit int, cursor string) (PaymentPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.transactions.List(ctx, transaction.ListParams{Limit: limit, Cursor: cursor})
	if err != nil {
		return PaymentPage{}, err
	}

	names := map[string]string{}
	page := PaymentPage{Payments: make([]Payment, 0, len(rows))}
	for _, rec := range rows {
		p := Payment{
			ID:              rec.ID,
			StripePaymentID: rec.StripePaymentID,
			Description:     stringOr(rec.Description, "Payment"),
			Amount:          rec.Amount,
			RefundAmount:    rec.RefundAmount,
			Currency:        rec.Currency,
			Status:          rec.Status,
			Refunded:        rec.RefundAmount > 0,
			UserName:        stringOr(rec.UserName, "Unknown User"),
			UserEmail:       stringOr(rec.UserEmail, "No Email"),
			CreatedAt:       rec.CreatedAt,
		}
		if rec.BusinessID != nil {
			p.BusinessID = *rec.BusinessID
			name, ok := names[*rec.BusinessID]
			if !ok {
				if biz, err := s.repo.GetByID(ctx, *rec.BusinessID); err == nil {
					name = biz.Name
				}
				names[*rec.BusinessID] = name
			}
			p.BusinessName = name
		}
		page.Payments = append(page.Payments, p)
	}

	page.HasMore = len(rows) == limit
	if len(rows) > 0 {
		page.NextCursor = rows[len(rows)-1].ID
	}
	return page, nil
}

// PaymentStats aggregates the local cache for the dashboard header.
func (s *Service) PaymentStats(ctx context.Context) (transaction.Stats, error) {
	return s.transactions.Stats(ctx)
}

func (s *Service) writeAudit(ctx context.Context, adminID, actionType string, targetID *string, metadata map[string]any) {
	if s.audit == nil || adminID == "" {
		return
	}
	_ = s.audit.Record(ctx, adminID, actionType, targetID, metadata)
}

func stringOr(v *string, fallback string) string {
	if v != nil && *v != "" {
		return *v
	}
	return fallback
}

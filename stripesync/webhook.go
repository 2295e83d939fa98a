package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marvalero/ledger"
	"marvalero/transaction"
)

// EventType is the processor's webhook event vocabulary, limited to the
// events that move transaction state.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
	EventChargeRefunded   EventType = "charge.refunded"
	EventDisputeCreated   EventType = "charge.dispute.created"
)

// WebhookEvent is a processor event normalized for the handler. EventID
// doubles as the idempotency key: replays of the same event id are
// absorbed without a second write.
type WebhookEvent struct {
	EventID         string
	Type            EventType
	PaymentIntent   *ledger.PaymentIntent
	Charge          *ledger.Charge
	DisputedPayment string
}

var (
	// ErrDuplicateEvent signals the event id was already processed.
	ErrDuplicateEvent = errors.New("stripesync: duplicate webhook event")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WebhookRepository is the transactional data access the handler needs.
// Everything runs inside one DB transaction so the idempotency key and
// the row mutation commit or roll back together.
type WebhookRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	FindBusinessID(ctx context.Context, tx pgx.Tx, customerID string) (*string, error)
	UpsertFromIntent(ctx context.Context, tx pgx.Tx, params transaction.UpsertParams) error
	MarkDisputed(ctx context.Context, tx pgx.Tx, stripePaymentID string, at time.Time) (bool, error)
}

// WebhookHandler applies ledger webhook events to the local store,
// outside the batch engine, so admin views converge without waiting for
// the next sync window.
type WebhookHandler struct {
	pool TxBeginner
	repo WebhookRepository
	now  func() time.Time
}

func NewWebhookHandler(pool TxBeginner, repo WebhookRepository) *WebhookHandler {
	if repo == nil {
		repo = NewWebhookRepository()
	}
	return &WebhookHandler{
		pool: pool,
		repo: repo,
		now:  time.Now,
	}
}

func (h *WebhookHandler) WithClock(now func() time.Time) *WebhookHandler {
	h.now = now
	return h
}

// HandleEvent processes one event. Replaying an already-seen event id
// is a no-op, never an error.
func (h *WebhookHandler) HandleEvent(ctx context.Context, event WebhookEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("stripesync: webhook missing event id")
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stripesync: begin webhook tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := h.repo.InsertIdempotencyKey(ctx, tx, event.EventID); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		err = h.applyIntent(ctx, tx, event)
	case EventChargeRefunded:
		err = h.applyRefundedCharge(ctx, tx, event)
	case EventDisputeCreated:
		err = h.applyDispute(ctx, tx, event)
	default:
		log.Printf("stripesync: unhandled webhook event type %s", event.Type)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("stripesync: commit webhook tx: %w", err)
	}
	return nil
}

func (h *WebhookHandler) applyIntent(ctx context.Context, tx pgx.Tx, event WebhookEvent) error {
	pi := event.PaymentIntent
	if pi == nil {
		return fmt.Errorf("stripesync: %s event without payment intent", event.Type)
	}

	var businessID *string
	if pi.Customer != "" {
		id, err := h.repo.FindBusinessID(ctx, tx, pi.Customer)
		if err != nil {
			return err
		}
		businessID = id
	}

	return h.repo.UpsertFromIntent(ctx, tx, transaction.UpsertParams{
		StripePaymentID:  pi.ID,
		Amount:           pi.Amount,
		Currency:         pi.Currency,
		Status:           transaction.Status(pi.Status),
		Description:      optional(pi.Description),
		Metadata:         pi.Metadata,
		BusinessID:       businessID,
		UserName:         optional(pi.Metadata["userName"]),
		UserEmail:        optional(pi.ReceiptEmail),
		LastSyncedAt:     h.now(),
		SyncedFromStripe: true,
	})
}

func (h *WebhookHandler) applyRefundedCharge(ctx context.Context, tx pgx.Tx, event WebhookEvent) error {
	charge := event.Charge
	if charge == nil {
		return fmt.Errorf("stripesync: %s event without charge", event.Type)
	}
	if charge.PaymentIntentID == "" {
		// Nothing to key the local row on.
		return nil
	}

	var refundTotal int64
	for _, refund := range charge.Refunds {
		refundTotal += refund.Amount
	}
	status := transaction.DeriveStatus(transaction.Status(charge.Status), charge.Amount, refundTotal, charge.Disputed)

	return h.repo.UpsertFromIntent(ctx, tx, transaction.UpsertParams{
		StripePaymentID:  charge.PaymentIntentID,
		Amount:           charge.Amount,
		RefundAmount:     refundTotal,
		Currency:         charge.Currency,
		Status:           status,
		Metadata:         charge.Metadata,
		LastSyncedAt:     h.now(),
		SyncedFromStripe: true,
	})
}

func (h *WebhookHandler) applyDispute(ctx context.Context, tx pgx.Tx, event WebhookEvent) error {
	if event.DisputedPayment == "" {
		return nil
	}
	marked, err := h.repo.MarkDisputed(ctx, tx, event.DisputedPayment, h.now())
	if err != nil {
		return err
	}
	if !marked {
		log.Printf("stripesync: dispute for unknown payment %s", event.DisputedPayment)
	}
	return nil
}

// PGWebhookRepository runs the handler's SQL against the shared schema.
type PGWebhookRepository struct{}

func NewWebhookRepository() *PGWebhookRepository {
	return &PGWebhookRepository{}
}

func (r *PGWebhookRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `INSERT INTO webhook_idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("stripesync: insert idempotency key: %w", err)
	}
	return nil
}

func (r *PGWebhookRepository) FindBusinessID(ctx context.Context, tx pgx.Tx, customerID string) (*string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM businesses WHERE stripe_customer_id = $1`, customerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stripesync: find business for customer %s: %w", customerID, err)
	}
	return &id, nil
}

func (r *PGWebhookRepository) UpsertFromIntent(ctx context.Context, tx pgx.Tx, params transaction.UpsertParams) error {
	const query = `
		INSERT INTO transactions (stripe_payment_id, amount, refund_amount, currency, status, description,
		    metadata, business_id, user_name, user_email, last_synced_at, synced_from_stripe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid, $9, $10, $11, $12)
		ON CONFLICT (stripe_payment_id) DO UPDATE SET
		    amount = EXCLUDED.amount,
		    refund_amount = GREATEST(EXCLUDED.refund_amount, transactions.refund_amount),
		    currency = EXCLUDED.currency,
		    status = EXCLUDED.status,
		    metadata = COALESCE(EXCLUDED.metadata, transactions.metadata),
		    business_id = COALESCE(EXCLUDED.business_id, transactions.business_id),
		    last_synced_at = EXCLUDED.last_synced_at,
		    synced_from_stripe = EXCLUDED.synced_from_stripe,
		    updated_at = get_tx_timestamp()
	`

	var meta any
	if len(params.Metadata) > 0 {
		b, err := json.Marshal(params.Metadata)
		if err != nil {
			return fmt.Errorf("stripesync: encode metadata: %w", err)
		}
		meta = b
	}

	_, err := tx.Exec(ctx, query,
		params.StripePaymentID,
		params.Amount,
		params.RefundAmount,
		params.Currency,
		params.Status,
		params.Description,
		meta,
		params.BusinessID,
		params.UserName,
		params.UserEmail,
		params.LastSyncedAt,
		params.SyncedFromStripe,
	)
	if err != nil {
		return fmt.Errorf("stripesync: webhook upsert %s: %w", params.StripePaymentID, err)
	}
	return nil
}

func (r *PGWebhookRepository) MarkDisputed(ctx context.Context, tx pgx.Tx, stripePaymentID string, at time.Time) (bool, error) {
	const query = `
		UPDATE transactions
		SET status = 'disputed',
		    last_synced_at = $2,
		    updated_at = get_tx_timestamp()
		WHERE stripe_payment_id = $1
		  AND refund_amount = 0
	`

	tag, err := tx.Exec(ctx, query, stripePaymentID, at)
	if err != nil {
		return false, fmt.Errorf("stripesync: mark disputed %s: %w", stripePaymentID, err)
	}
	return tag.RowsAffected() > 0, nil
}

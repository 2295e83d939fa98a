package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("transaction: not found")
)

// UpsertParams carries everything the sync engine writes on a row.
// Create-only fields (UserName, UserEmail) seed the denormalized
// identity on first sighting and are never overwritten afterwards.
type UpsertParams struct {
	StripePaymentID  string
	Amount           int64
	RefundAmount     int64
	Currency         string
	Status           Status
	Description      *string
	Metadata         map[string]string
	BusinessID       *string
	UserName         *string
	UserEmail        *string
	LastSyncedAt     time.Time
	SyncedFromStripe bool
}

// LedgerUpdate is the subset rewritten by the staleness repair pass.
type LedgerUpdate struct {
	Status       Status
	Amount       int64
	RefundAmount int64
	LastSyncedAt time.Time
}

// ListParams pages the local cache newest-first. Cursor is the row id
// of the last item of the previous page.
type ListParams struct {
	Limit  int
	Cursor string
}

type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (Record, error)
	GetByExternalID(ctx context.Context, stripePaymentID string) (Record, error)
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)
	UpdateFromLedger(ctx context.Context, id string, update LedgerUpdate) error
	UpdateStatusByExternalID(ctx context.Context, stripePaymentID string, status Status, refundAmount *int64) error
	List(ctx context.Context, params ListParams) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id, stripe_payment_id, amount, refund_amount, currency, status, description, metadata, business_id::text, user_name, user_email, last_synced_at, synced_from_stripe, created_at, updated_at`

func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (Record, error) {
	if params.StripePaymentID == "" {
		return Record{}, fmt.Errorf("transaction: upsert missing external id")
	}

	const query = `
		INSERT INTO transactions (stripe_payment_id, amount, refund_amount, currency, status, description,
		    metadata, business_id, user_name, user_email, last_synced_at, synced_from_stripe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid, $9, $10, $11, $12)
		ON CONFLICT (stripe_payment_id) DO UPDATE SET
		    amount = EXCLUDED.amount,
		    refund_amount = EXCLUDED.refund_amount,
		    currency = EXCLUDED.currency,
		    status = EXCLUDED.status,
		    description = EXCLUDED.description,
		    metadata = EXCLUDED.metadata,
		    business_id = COALESCE(EXCLUDED.business_id, transactions.business_id),
		    last_synced_at = EXCLUDED.last_synced_at,
		    synced_from_stripe = EXCLUDED.synced_from_stripe,
		    updated_at = get_tx_timestamp()
		RETURNING ` + recordColumns

	row := r.pool.QueryRow(ctx, query,
		params.StripePaymentID,
		params.Amount,
		params.RefundAmount,
		params.Currency,
		params.Status,
		params.Description,
		metadataParam(params.Metadata),
		params.BusinessID,
		params.UserName,
		params.UserEmail,
		params.LastSyncedAt,
		params.SyncedFromStripe,
	)

	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("transaction: upsert %s: %w", params.StripePaymentID, err)
	}
	return rec, nil
}

func (r *PGRepository) GetByExternalID(ctx context.Context, stripePaymentID string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM transactions WHERE stripe_payment_id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, stripePaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transaction: get %s: %w", stripePaymentID, err)
	}
	return rec, nil
}

func (r *PGRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE last_synced_at < $1 OR last_synced_at IS NULL
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("transaction: query stale: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *PGRepository) UpdateFromLedger(ctx context.Context, id string, update LedgerUpdate) error {
	const query = `
		UPDATE transactions
		SET status = $2,
		    amount = $3,
		    refund_amount = $4,
		    last_synced_at = $5,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, update.Status, update.Amount, update.RefundAmount, update.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("transaction: update from ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) UpdateStatusByExternalID(ctx context.Context, stripePaymentID string, status Status, refundAmount *int64) error {
	const query = `
		UPDATE transactions
		SET status = $2,
		    refund_amount = COALESCE($3, refund_amount),
		    updated_at = get_tx_timestamp()
		WHERE stripe_payment_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, stripePaymentID, status, refundAmount)
	if err != nil {
		return fmt.Errorf("transaction: update status %s: %w", stripePaymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, params ListParams) ([]Record, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}

	base := `SELECT ` + recordColumns + ` FROM transactions`
	args := []any{}
	where := ""

	if params.Cursor != "" {
		where = ` WHERE created_at < (SELECT created_at FROM transactions WHERE id = $1)`
		args = append(args, params.Cursor)
	}

	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d`, base, where, params.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction: query list: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *PGRepository) Stats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(refund_amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'succeeded'), 0)
		FROM transactions
	`

	var s Stats
	if err := r.pool.QueryRow(ctx, query).Scan(&s.TotalTransactions, &s.TotalVolume, &s.TotalRefunded, &s.CompletedRevenue); err != nil {
		return Stats{}, fmt.Errorf("transaction: query stats: %w", err)
	}
	return s, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	list := make([]Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan row: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate rows: %w", err)
	}
	return list, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec     Record
		metaRaw []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.StripePaymentID,
		&rec.Amount,
		&rec.RefundAmount,
		&rec.Currency,
		&rec.Status,
		&rec.Description,
		&metaRaw,
		&rec.BusinessID,
		&rec.UserName,
		&rec.UserEmail,
		&rec.LastSyncedAt,
		&rec.SyncedFromStripe,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func metadataParam(m map[string]string) any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

package business

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("business: not found")
)

type Repository interface {
	GetByID(ctx context.Context, id string) (Record, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	UpdateSubscription(ctx context.Context, id string, fields SubscriptionFields) error
	FindUnreconciled(ctx context.Context, limit int) ([]Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const recordColumns = `id, name, user_id::text, stripe_customer_id, stripe_subscription_id, subscription_plan, subscription_status, created_at, updated_at`

func (r *PGRepository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM businesses WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("business: get %s: %w", id, err)
	}
	return rec, nil
}

func (r *PGRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM businesses WHERE stripe_customer_id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("business: find by customer %s: %w", customerID, err)
	}
	return rec, nil
}

func (r *PGRepository) List(ctx context.Context) ([]Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM businesses ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("business: query list: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *PGRepository) UpdateSubscription(ctx context.Context, id string, fields SubscriptionFields) error {
	const query = `
		UPDATE businesses
		SET stripe_subscription_id = $2,
		    subscription_status = $3,
		    subscription_plan = $4,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, fields.StripeSubscriptionID, fields.SubscriptionStatus, fields.SubscriptionPlan)
	if err != nil {
		return fmt.Errorf("business: update subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindUnreconciled returns businesses linked to the processor but whose
// subscription status was never successfully mirrored.
func (r *PGRepository) FindUnreconciled(ctx context.Context, limit int) ([]Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM businesses
		WHERE stripe_customer_id IS NOT NULL
		  AND stripe_subscription_id IS NOT NULL
		  AND subscription_status IS NULL
		ORDER BY updated_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("business: query unreconciled: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	list := make([]Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("business: scan row: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("business: iterate rows: %w", err)
	}
	return list, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.UserID,
		&rec.StripeCustomerID,
		&rec.StripeSubscriptionID,
		&rec.SubscriptionPlan,
		&rec.SubscriptionStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
}

package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the local payment cache
// while the reconciliation engine, webhook handler, and admin actions
// race each other. refund_pending is exempt from the lattice checks: it
// marks an in-flight admin refund whose ledger outcome is not known yet.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_external_payment",
			SQL: `SELECT stripe_payment_id, COUNT(*) FROM transactions
                  GROUP BY stripe_payment_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_full_refund_status",
			SQL: `SELECT id, status, amount, refund_amount FROM transactions
                  WHERE refund_amount > 0 AND refund_amount >= amount
                    AND status NOT IN ('refunded', 'refund_pending')`,
		},
		{
			Name: "O3_partial_refund_status",
			SQL: `SELECT id, status, amount, refund_amount FROM transactions
                  WHERE refund_amount > 0 AND refund_amount < amount
                    AND status NOT IN ('partially_refunded', 'refund_pending')`,
		},
		{
			Name: "O4_dispute_refund_precedence",
			SQL: `SELECT id, status, refund_amount FROM transactions
                  WHERE status = 'disputed' AND refund_amount > 0`,
		},
		{
			Name: "O5_amount_bounds",
			SQL: `SELECT id, amount, refund_amount FROM transactions
                  WHERE amount < 0 OR refund_amount < 0`,
		},
		{
			Name: "O6_subscription_link",
			SQL: `SELECT id FROM businesses
                  WHERE stripe_subscription_id IS NOT NULL
                    AND stripe_customer_id IS NULL`,
		},
		{
			Name: "O7_sync_clock",
			SQL: `SELECT id, last_synced_at FROM transactions
                  WHERE last_synced_at > now() + interval '1 minute'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_active_dispute",
			SQL: `SELECT contract_id, COUNT(*) FROM disputes
                  WHERE status <> 'resolved'
                  GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_settle_at_most_once",
			SQL: `SELECT payment_id, COUNT(*) FROM pool_transactions
                  WHERE type IN ('release','refund') AND status = 'completed'
                    AND payment_id IS NOT NULL
                  GROUP BY payment_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_settled_ledger_vs_live_payment",
			SQL: `SELECT p.id, p.pool_status FROM payments p
                  WHERE p.pool_status IN ('not_pooled','in_pool','frozen')
                    AND EXISTS (SELECT 1 FROM pool_transactions t
                                WHERE t.payment_id = p.id
                                  AND t.type IN ('release','refund')
                                  AND t.status = 'completed')`,
		},
		{
			Name: "O4_payment_overdrawn",
			SQL: `SELECT payment_id FROM pool_transactions
                  WHERE payment_id IS NOT NULL
                  GROUP BY payment_id
                  HAVING COALESCE(SUM(amount) FILTER (
                             WHERE type IN ('release','refund','cancellation_penalty','fee_deduction')
                               AND status = 'completed'), 0)
                       > COALESCE(SUM(amount) FILTER (
                             WHERE type = 'deposit' AND status IN ('completed','frozen')), 0)`,
		},
		{
			Name: "O5_negative_contract_balance",
			SQL: `SELECT contract_id FROM pool_transactions
                  GROUP BY contract_id
                  HAVING COALESCE(SUM(amount) FILTER (
                             WHERE type = 'deposit' AND status IN ('completed','frozen')), 0)
                       - COALESCE(SUM(amount) FILTER (
                             WHERE type IN ('release','refund') AND status = 'completed'), 0) < 0`,
		},
		{
			Name: "O6_frozen_entry_live_payment",
			SQL: `SELECT t.id FROM pool_transactions t
                  JOIN payments p ON p.id = t.payment_id
                  WHERE t.status = 'frozen' AND p.pool_status <> 'frozen'`,
		},
		{
			Name: "O7_frozen_payment_without_entry",
			SQL: `SELECT p.id FROM payments p
                  WHERE p.pool_status = 'frozen'
                    AND NOT EXISTS (SELECT 1 FROM pool_transactions t
                                    WHERE t.payment_id = p.id AND t.status = 'frozen')`,
		},
		{
			Name: "O8_penalty_without_partial_settle",
			SQL: `SELECT t.id FROM pool_transactions t
                  JOIN payments p ON p.id = t.payment_id
                  WHERE t.type = 'cancellation_penalty'
                    AND p.pool_status NOT IN ('partially_refunded','refunded')`,
		},
		{
			Name: "O9_negative_amounts",
			SQL:  `SELECT id FROM pool_transactions WHERE amount < 0 OR balance_after < 0`,
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

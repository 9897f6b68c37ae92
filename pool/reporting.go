package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Reports computes read-only aggregates over the ledger. Every method is a
// single SQL statement, so each result reflects one consistent snapshot and
// never observes a half-committed multi-payment operation.
type Reports struct {
	pool *pgxpool.Pool
}

func NewReports(pool *pgxpool.Pool) *Reports {
	return &Reports{pool: pool}
}

// Deposits count while completed or frozen (freezing never changes the
// balance); releases and refunds count only once completed. Pending entries
// and penalty/fee-deduction entries never enter the sum: retained fees fall
// out of the formula because only the net refund is subtracted.
const balanceExpr = `
	COALESCE(SUM(amount) FILTER (WHERE type = 'deposit' AND status IN ('completed', 'frozen')), 0)
	- COALESCE(SUM(amount) FILTER (WHERE type IN ('release', 'refund') AND status = 'completed'), 0)
`

// Balance returns the total amount currently held in the pool.
func (r *Reports) Balance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := r.pool.QueryRow(ctx, `SELECT `+balanceExpr+` FROM pool_transactions`).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("pool: balance: %w", err)
	}
	return balance, nil
}

// UserBalance returns the portion of the pool attributable to one user.
func (r *Reports) UserBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	query := `SELECT ` + balanceExpr + ` FROM pool_transactions WHERE user_id = $1`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("pool: user balance: %w", err)
	}
	return balance, nil
}

// ContractSummary aggregates one contract's pool state.
type ContractSummary struct {
	ContractID     string
	TotalDeposits  decimal.Decimal
	TotalReleases  decimal.Decimal
	TotalRefunds   decimal.Decimal
	TotalPenalties decimal.Decimal
	HeldBalance    decimal.Decimal
	FrozenCount    int
	HasDispute     bool
}

// Summary returns the pool state for a single contract.
func (r *Reports) Summary(ctx context.Context, contractID string) (ContractSummary, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'deposit' AND status IN ('completed', 'frozen')), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'release' AND status = 'completed'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'refund' AND status = 'completed'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'cancellation_penalty' AND status = 'completed'), 0),
			COUNT(*) FILTER (WHERE status = 'frozen'),
			EXISTS (SELECT 1 FROM disputes d WHERE d.contract_id = $1 AND d.status <> 'resolved')
		FROM pool_transactions
		WHERE contract_id = $1
	`

	s := ContractSummary{ContractID: contractID}
	if err := r.pool.QueryRow(ctx, query, contractID).Scan(
		&s.TotalDeposits,
		&s.TotalReleases,
		&s.TotalRefunds,
		&s.TotalPenalties,
		&s.FrozenCount,
		&s.HasDispute,
	); err != nil {
		return ContractSummary{}, fmt.Errorf("pool: contract summary: %w", err)
	}
	s.HeldBalance = s.TotalDeposits.Sub(s.TotalReleases).Sub(s.TotalRefunds)
	return s, nil
}

// Statistics is the admin dashboard aggregate.
type Statistics struct {
	TotalBalance           decimal.Decimal
	FrozenAmount           decimal.Decimal
	DepositsThisMonth      decimal.Decimal
	DepositsCountThisMonth int
	DepositsGrowthPct      decimal.Decimal
	ReleasesThisMonth      decimal.Decimal
	ReleasesCountThisMonth int
	ReleasesGrowthPct      decimal.Decimal
}

// Statistics aggregates pool movement for the current and previous month.
func (r *Reports) Statistics(ctx context.Context) (Statistics, error) {
	query := `
		SELECT ` + balanceExpr + `,
			COALESCE(SUM(amount) FILTER (WHERE type = 'deposit' AND status = 'frozen'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'deposit' AND status IN ('completed', 'frozen')
				AND created_at >= date_trunc('month', now())), 0),
			COUNT(*) FILTER (WHERE type = 'deposit' AND status IN ('completed', 'frozen')
				AND created_at >= date_trunc('month', now())),
			COALESCE(SUM(amount) FILTER (WHERE type = 'deposit' AND status IN ('completed', 'frozen')
				AND created_at >= date_trunc('month', now()) - interval '1 month'
				AND created_at < date_trunc('month', now())), 0),
			COALESCE(SUM(amount) FILTER (WHERE type IN ('release', 'refund') AND status = 'completed'
				AND created_at >= date_trunc('month', now())), 0),
			COUNT(*) FILTER (WHERE type IN ('release', 'refund') AND status = 'completed'
				AND created_at >= date_trunc('month', now())),
			COALESCE(SUM(amount) FILTER (WHERE type IN ('release', 'refund') AND status = 'completed'
				AND created_at >= date_trunc('month', now()) - interval '1 month'
				AND created_at < date_trunc('month', now())), 0)
		FROM pool_transactions
	`

	var (
		s                 Statistics
		depositsLastMonth decimal.Decimal
		releasesLastMonth decimal.Decimal
	)
	if err := r.pool.QueryRow(ctx, query).Scan(
		&s.TotalBalance,
		&s.FrozenAmount,
		&s.DepositsThisMonth,
		&s.DepositsCountThisMonth,
		&depositsLastMonth,
		&s.ReleasesThisMonth,
		&s.ReleasesCountThisMonth,
		&releasesLastMonth,
	); err != nil {
		return Statistics{}, fmt.Errorf("pool: statistics: %w", err)
	}

	s.DepositsGrowthPct = growthPct(s.DepositsThisMonth, depositsLastMonth)
	s.ReleasesGrowthPct = growthPct(s.ReleasesThisMonth, releasesLastMonth)
	return s, nil
}

func growthPct(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsPositive() {
		return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(1)
	}
	if current.IsPositive() {
		return decimal.NewFromInt(100)
	}
	return decimal.Zero
}

// MonthFlow is one month of pool inflow/outflow.
type MonthFlow struct {
	Month    time.Time
	Deposits decimal.Decimal
	Releases decimal.Decimal
}

// MonthlyFlow returns per-month deposit and release totals for the last
// months months, oldest first, including empty months.
func (r *Reports) MonthlyFlow(ctx context.Context, months int) ([]MonthFlow, error) {
	if months <= 0 || months > 60 {
		months = 12
	}

	query := `
		SELECT m.month,
			COALESCE(SUM(t.amount) FILTER (WHERE t.type = 'deposit' AND t.status IN ('completed', 'frozen')), 0),
			COALESCE(SUM(t.amount) FILTER (WHERE t.type IN ('release', 'refund') AND t.status = 'completed'), 0)
		FROM generate_series(
			date_trunc('month', now()) - ($1 - 1) * interval '1 month',
			date_trunc('month', now()),
			interval '1 month'
		) AS m(month)
		LEFT JOIN pool_transactions t
			ON t.created_at >= m.month AND t.created_at < m.month + interval '1 month'
		GROUP BY m.month
		ORDER BY m.month ASC
	`

	rows, err := r.pool.Query(ctx, query, months)
	if err != nil {
		return nil, fmt.Errorf("pool: monthly flow: %w", err)
	}
	defer rows.Close()

	out := make([]MonthFlow, 0, months)
	for rows.Next() {
		var f MonthFlow
		if err := rows.Scan(&f.Month, &f.Deposits, &f.Releases); err != nil {
			return nil, fmt.Errorf("pool: scan monthly flow: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pool: iterate monthly flow: %w", err)
	}
	return out, nil
}

// TxFilters narrows ListTransactions.
type TxFilters struct {
	ContractID string
	UserID     string
	Type       TxType
	Status     TxStatus
	Limit      int
}

// ListTransactions returns ledger entries newest first.
func (r *Reports) ListTransactions(ctx context.Context, filters TxFilters) ([]Transaction, error) {
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}

	query := `SELECT ` + txColumns + ` FROM pool_transactions WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.ContractID != "" {
		query += ` AND contract_id = ` + arg(filters.ContractID)
	}
	if filters.UserID != "" {
		query += ` AND user_id = ` + arg(filters.UserID)
	}
	if filters.Type != "" {
		query += ` AND type = ` + arg(filters.Type) + `::pool_tx_type`
	}
	if filters.Status != "" {
		query += ` AND status = ` + arg(filters.Status) + `::pool_tx_status`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(filters.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pool: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, filters.Limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("pool: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pool: iterate transactions: %w", err)
	}
	return out, nil
}

package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the payment does not exist.
	ErrNotFound = errors.New("payment: not found")
	// ErrInvalidTransition signals a pool status move that is off the graph.
	ErrInvalidTransition = errors.New("payment: invalid pool status transition")
	// ErrStaleStatus signals the row no longer holds the expected pool
	// status; a concurrent operation won the race.
	ErrStaleStatus = errors.New("payment: pool status changed concurrently")
	// ErrNotPaid signals an operation that requires a gateway-confirmed payment.
	ErrNotPaid = errors.New("payment: not paid")
)

const selectColumns = `
	id, user_id, contract_id, payment_type::text, amount, status::text, pool_status::text,
	gateway_payment_id, gateway_refund_id, paid_at, created_at, updated_at
`

// Repository handles data access for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed payment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams contains write parameters for recording a payment.
type CreateParams struct {
	UserID           string
	ContractID       string
	Type             Type
	Amount           decimal.Decimal
	GatewayPaymentID *string
}

// Create records a new inbound payment in gateway status pending and pool
// status not_pooled.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Payment, error) {
	if params.UserID == "" || params.ContractID == "" {
		return Payment{}, fmt.Errorf("payment: user and contract ids required")
	}
	if params.Amount.IsNegative() || params.Amount.IsZero() {
		return Payment{}, fmt.Errorf("payment: amount must be positive")
	}

	query := `
		INSERT INTO payments (user_id, contract_id, payment_type, amount, status, pool_status, gateway_payment_id)
		VALUES ($1, $2, $3::payment_type, $4, 'pending', 'not_pooled', $5)
		RETURNING ` + selectColumns

	p, err := scanPayment(r.pool.QueryRow(ctx, query,
		params.UserID, params.ContractID, params.Type, params.Amount, params.GatewayPaymentID))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: create: %w", err)
	}
	return p, nil
}

// MarkPaid flips a payment to paid once the gateway confirms it, recording
// the gateway payment reference and paid timestamp. Already-paid payments
// are returned unchanged so webhook replays stay harmless.
func (r *Repository) MarkPaid(ctx context.Context, id, gatewayPaymentID string) (Payment, error) {
	query := `
		UPDATE payments
		SET status = 'paid',
		    gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
		    paid_at = COALESCE(paid_at, now()),
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'paid')
		RETURNING ` + selectColumns

	p, err := scanPayment(r.pool.QueryRow(ctx, query, id, gatewayPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: mark paid: %w", err)
	}
	return p, nil
}

// GetByID fetches a payment without locking.
func (r *Repository) GetByID(ctx context.Context, id string) (Payment, error) {
	query := `SELECT ` + selectColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: get by id: %w", err)
	}
	return p, nil
}

// GetForUpdate fetches a payment inside tx holding a row lock until commit.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	query := `SELECT ` + selectColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: get for update: %w", err)
	}
	return p, nil
}

// ListPooled selects the contract's paid payments of the given types in the
// given pool status, locking each row for the duration of tx. This lock is
// the mutual-exclusion boundary for every multi-payment pool operation.
func (r *Repository) ListPooled(ctx context.Context, tx pgx.Tx, contractID string, types []Type, poolStatus PoolStatus) ([]Payment, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	query := `
		SELECT ` + selectColumns + `
		FROM payments
		WHERE contract_id = $1
		  AND status = 'paid'
		  AND pool_status = $2::payment_pool_status
		  AND payment_type = ANY($3::payment_type[])
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, contractID, poolStatus, typeNames)
	if err != nil {
		return nil, fmt.Errorf("payment: list pooled: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0, 4)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan pooled: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate pooled: %w", err)
	}
	return payments, nil
}

// UpdatePoolStatus moves a payment along the pool status graph with
// compare-and-set semantics: it fails if from->to is not a legal edge, and
// reports ErrStaleStatus when the row is not currently in from.
func (r *Repository) UpdatePoolStatus(ctx context.Context, tx pgx.Tx, id string, from, to PoolStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET pool_status = $3::payment_pool_status, updated_at = now()
		WHERE id = $1 AND pool_status = $2::payment_pool_status
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("payment: update pool status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s expected %s", ErrStaleStatus, id, from)
	}
	return nil
}

// SetGatewayRefundID stores the gateway refund reference after a successful
// refund call.
func (r *Repository) SetGatewayRefundID(ctx context.Context, tx pgx.Tx, id, refundID string) error {
	if refundID == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET gateway_refund_id = $2, updated_at = now() WHERE id = $1
	`, id, refundID); err != nil {
		return fmt.Errorf("payment: set refund id: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.ContractID,
		&p.Type,
		&p.Amount,
		&p.Status,
		&p.PoolStatus,
		&p.GatewayPaymentID,
		&p.GatewayRefundID,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

package pool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const txColumns = `
	id, payment_id, contract_id, user_id, type::text, amount, balance_after,
	status::text, description, processed_at, created_at
`

// InsertTxParams enumerates the fields of a new ledger entry.
type InsertTxParams struct {
	PaymentID    *string
	ContractID   string
	UserID       string
	Type         TxType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Status       TxStatus
	Description  string
}

// PGLedger is the PostgreSQL ledger store.
type PGLedger struct{}

// NewLedger creates the ledger store. All methods run inside a caller
// transaction; the store holds no connection of its own.
func NewLedger() *PGLedger {
	return &PGLedger{}
}

// Insert appends one ledger entry.
func (l *PGLedger) Insert(ctx context.Context, tx pgx.Tx, params InsertTxParams) (Transaction, error) {
	if params.ContractID == "" || params.UserID == "" {
		return Transaction{}, fmt.Errorf("pool: transaction requires contract and user ids")
	}

	query := `
		INSERT INTO pool_transactions
			(payment_id, contract_id, user_id, type, amount, balance_after, status, description, processed_at)
		VALUES ($1, $2, $3, $4::pool_tx_type, $5, $6, $7::pool_tx_status, $8, now())
		RETURNING ` + txColumns

	t, err := scanTransaction(tx.QueryRow(ctx, query,
		params.PaymentID,
		params.ContractID,
		params.UserID,
		params.Type,
		params.Amount,
		params.BalanceAfter,
		params.Status,
		params.Description,
	))
	if err != nil {
		return Transaction{}, fmt.Errorf("pool: insert transaction: %w", err)
	}
	return t, nil
}

// FreezeLatestCompleted flips the most recent completed entry of a payment
// to frozen. Returns false when the payment has no completed entry.
func (l *PGLedger) FreezeLatestCompleted(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE pool_transactions
		SET status = 'frozen'
		WHERE id = (
			SELECT id FROM pool_transactions
			WHERE payment_id = $1 AND status = 'completed'
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("pool: freeze transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RestoreFrozen flips every frozen entry of a contract back to completed
// and returns how many entries were restored.
func (l *PGLedger) RestoreFrozen(ctx context.Context, tx pgx.Tx, contractID string) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE pool_transactions
		SET status = 'completed'
		WHERE contract_id = $1 AND status = 'frozen'
	`, contractID)
	if err != nil {
		return 0, fmt.Errorf("pool: restore frozen transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CompletePending flips a pending entry to completed once the gateway
// confirms the movement out of band.
func (l *PGLedger) CompletePending(ctx context.Context, tx pgx.Tx, transactionID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE pool_transactions
		SET status = 'completed'
		WHERE id = $1 AND status = 'pending'
	`, transactionID)
	if err != nil {
		return fmt.Errorf("pool: complete pending transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool: transaction %s is not pending", transactionID)
	}
	return nil
}

// ListForContract returns the contract's ledger entries in insertion order.
func (l *PGLedger) ListForContract(ctx context.Context, pool *pgxpool.Pool, contractID string) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM pool_transactions WHERE contract_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("pool: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
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

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.PaymentID,
		&t.ContractID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.BalanceAfter,
		&t.Status,
		&t.Description,
		&t.ProcessedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound covers both a missing contract and a caller who is not a
// party to it, so outsiders cannot probe for contract existence.
var ErrNotFound = errors.New("contract: not found")

// Repository provides read access to breeding contracts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `
	id, owner1_user_id, owner2_user_id, shooter_user_id,
	collateral_total, collateral_per_owner, cancellation_fee_percentage,
	status::text, created_at, updated_at
`

// GetByID fetches a contract by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Contract, error) {
	query := `SELECT ` + selectColumns + ` FROM breeding_contracts WHERE id = $1`
	c, err := scanContract(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: query by id: %w", err)
	}
	return c, nil
}

// GetForParty fetches a contract only if userID is one of its parties.
// Non-parties receive ErrNotFound, never a forbidden-style error.
func (r *Repository) GetForParty(ctx context.Context, id, userID string) (Contract, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	if !c.IsParty(userID) {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID,
		&c.Owner1UserID,
		&c.Owner2UserID,
		&c.ShooterUserID,
		&c.CollateralTotal,
		&c.CollateralPerOwner,
		&c.CancellationFeePercentage,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Contract{}, err
	}
	return c, nil
}

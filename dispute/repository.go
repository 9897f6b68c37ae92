package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pawpool/pool"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicate signals an unresolved dispute already exists for the
	// contract.
	ErrDuplicate = errors.New("dispute: active dispute already exists for contract")
	// ErrBadStatus signals an operation against a dispute in the wrong state.
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

const selectColumns = `
	id, contract_id, raised_by, reason, status::text, resolution_type::text,
	admin_note, resolved_by, resolved_at, created_at, updated_at
`

// Repository handles data access for disputes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams contains write parameters for filing a dispute.
type CreateParams struct {
	ContractID string
	RaisedBy   string
	Reason     string
}

// Create files a dispute inside the caller's transaction. The partial
// unique index over unresolved disputes enforces at most one per contract;
// a collision maps to ErrDuplicate, so two concurrent filers race cleanly.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Record, error) {
	query := `
		INSERT INTO disputes (contract_id, raised_by, reason, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING ` + selectColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, params.ContractID, params.RaisedBy, params.Reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

// ActiveExists reports whether the contract has an unresolved dispute. It
// runs inside the caller's transaction so release and cancellation guards
// observe disputes committed before their row locks were taken.
func (r *Repository) ActiveExists(ctx context.Context, tx pgx.Tx, contractID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM disputes WHERE contract_id = $1 AND status <> 'resolved')
	`, contractID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dispute: check active: %w", err)
	}
	return exists, nil
}

// GetByID fetches a dispute without locking.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + selectColumns + ` FROM disputes WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get by id: %w", err)
	}
	return rec, nil
}

// GetForUpdate fetches a dispute inside tx holding a row lock until commit.
// Resolution runs under this lock, so a concurrent resolution attempt blocks
// and then fails the resolved re-check.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	query := `SELECT ` + selectColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return rec, nil
}

// MarkUnderReview moves an open dispute to under_review.
func (r *Repository) MarkUnderReview(ctx context.Context, id string) (Record, error) {
	query := `
		UPDATE disputes
		SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + selectColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: mark under review: %w", err)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return Record{}, getErr
	}
	return Record{}, ErrBadStatus
}

// MarkResolved stamps the terminal resolution inside the caller's
// transaction.
func (r *Repository) MarkResolved(ctx context.Context, tx pgx.Tx, id string, resolution pool.Resolution, adminNote, adminID string) (Record, error) {
	query := `
		UPDATE disputes
		SET status = 'resolved',
		    resolution_type = $2::dispute_resolution,
		    admin_note = NULLIF($3, ''),
		    resolved_by = $4,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING ` + selectColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id, resolution, adminNote, adminID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrBadStatus
		}
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	return rec, nil
}

// ListForUser returns the disputes a user has raised, newest first.
func (r *Repository) ListForUser(ctx context.Context, raisedBy string) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM disputes WHERE raised_by = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, raisedBy)
}

// ListAll returns disputes for the admin view, optionally filtered by
// status.
func (r *Repository) ListAll(ctx context.Context, status Status) ([]Record, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+selectColumns+` FROM disputes ORDER BY created_at DESC`)
	}
	return r.list(ctx, `SELECT `+selectColumns+` FROM disputes WHERE status = $1::dispute_status ORDER BY created_at DESC`, status)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.ContractID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.ResolutionType,
		&rec.AdminNote,
		&rec.ResolvedBy,
		&rec.ResolvedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"pawpool/contract"
	"pawpool/pool"
)

var (
	// ErrReasonTooShort signals the dispute reason does not meet the
	// configured minimum length.
	ErrReasonTooShort = errors.New("dispute: reason too short")
	// ErrReasonTooLong caps free-text reason size.
	ErrReasonTooLong = errors.New("dispute: reason too long")
	// ErrNotDisputable signals the contract is not in a disputable status.
	ErrNotDisputable = errors.New("dispute: contract not disputable")
	// ErrInvalidResolution signals an unknown resolution type.
	ErrInvalidResolution = errors.New("dispute: invalid resolution type")
)

const maxReasonLen = 2000

// Store is the dispute data access the service needs.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkUnderReview(ctx context.Context, id string) (Record, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id string, resolution pool.Resolution, adminNote, adminID string) (Record, error)
	ListForUser(ctx context.Context, raisedBy string) ([]Record, error)
	ListAll(ctx context.Context, status Status) ([]Record, error)
}

// ContractReader resolves contracts for validation.
type ContractReader interface {
	GetByID(ctx context.Context, id string) (contract.Contract, error)
	GetForParty(ctx context.Context, id, userID string) (contract.Contract, error)
}

// FundsEngine is the pool-side machinery disputes drive.
type FundsEngine interface {
	FreezeFunds(ctx context.Context, tx pgx.Tx, contractID, disputeID string) (int, error)
	ExecuteResolution(ctx context.Context, tx pgx.Tx, c contract.Contract, disputeID, raisedBy string, res pool.Resolution) (pool.ResolutionOutcome, error)
}

// Service implements dispute filing and admin resolution.
type Service struct {
	db           pool.TxBeginner
	store        Store
	contracts    ContractReader
	funds        FundsEngine
	minReasonLen int
	log          *zap.Logger
}

func NewService(db pool.TxBeginner, store Store, contracts ContractReader, funds FundsEngine, minReasonLen int, log *zap.Logger) *Service {
	if minReasonLen <= 0 {
		minReasonLen = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:           db,
		store:        store,
		contracts:    contracts,
		funds:        funds,
		minReasonLen: minReasonLen,
		log:          log,
	}
}

// FileParams are the inputs for filing a dispute.
type FileParams struct {
	ContractID string
	RaisedBy   string
	Reason     string
}

// FileResult carries the created dispute and how many payments were frozen
// alongside it.
type FileResult struct {
	Dispute     Record
	FrozenCount int
}

// File creates a dispute and freezes the contract's pooled funds in the
// same transaction. The filer must be a party to the contract; a
// non-party gets contract.ErrNotFound rather than a hint that the
// contract exists.
func (s *Service) File(ctx context.Context, params FileParams) (FileResult, error) {
	reason := strings.TrimSpace(params.Reason)
	if len(reason) < s.minReasonLen {
		return FileResult{}, fmt.Errorf("%w: need at least %d characters", ErrReasonTooShort, s.minReasonLen)
	}
	if len(reason) > maxReasonLen {
		return FileResult{}, ErrReasonTooLong
	}

	c, err := s.contracts.GetForParty(ctx, params.ContractID, params.RaisedBy)
	if err != nil {
		return FileResult{}, err
	}
	if !c.Disputable() {
		return FileResult{}, fmt.Errorf("%w: contract status %s", ErrNotDisputable, c.Status)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return FileResult{}, fmt.Errorf("dispute: begin file tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.Create(ctx, tx, CreateParams{
		ContractID: c.ID,
		RaisedBy:   params.RaisedBy,
		Reason:     reason,
	})
	if err != nil {
		return FileResult{}, err
	}

	frozen, err := s.funds.FreezeFunds(ctx, tx, c.ID, rec.ID)
	if err != nil {
		return FileResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FileResult{}, fmt.Errorf("dispute: commit file: %w", err)
	}

	s.log.Info("dispute filed",
		zap.String("dispute_id", rec.ID),
		zap.String("contract_id", c.ID),
		zap.String("raised_by", params.RaisedBy),
		zap.Int("payments_frozen", frozen),
	)
	return FileResult{Dispute: rec, FrozenCount: frozen}, nil
}

// StartReview moves an open dispute to under_review.
func (s *Service) StartReview(ctx context.Context, disputeID, adminID string) (Record, error) {
	rec, err := s.store.MarkUnderReview(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("dispute under review",
		zap.String("dispute_id", rec.ID),
		zap.String("admin_id", adminID),
	)
	return rec, nil
}

// ResolveParams are the admin inputs for resolving a dispute.
type ResolveParams struct {
	DisputeID  string
	Resolution pool.Resolution
	AdminNote  string
	AdminID    string
}

// ResolveResult carries the resolved dispute and the fund movements the
// resolution caused.
type ResolveResult struct {
	Dispute Record
	Outcome pool.ResolutionOutcome
}

// Resolve applies a resolution to a dispute and settles the frozen funds in
// one transaction. The dispute row lock serializes concurrent attempts; the
// loser of the race sees the resolved status and gets ErrBadStatus.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (ResolveResult, error) {
	if !pool.ValidResolution(params.Resolution) {
		return ResolveResult{}, fmt.Errorf("%w: %q", ErrInvalidResolution, params.Resolution)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("dispute: begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return ResolveResult{}, err
	}
	if rec.Status == StatusResolved {
		return ResolveResult{}, ErrBadStatus
	}

	c, err := s.contracts.GetByID(ctx, rec.ContractID)
	if err != nil {
		return ResolveResult{}, err
	}

	outcome, err := s.funds.ExecuteResolution(ctx, tx, c, rec.ID, rec.RaisedBy, params.Resolution)
	if err != nil {
		return ResolveResult{}, err
	}

	resolved, err := s.store.MarkResolved(ctx, tx, rec.ID, params.Resolution, params.AdminNote, params.AdminID)
	if err != nil {
		return ResolveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ResolveResult{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", resolved.ID),
		zap.String("contract_id", resolved.ContractID),
		zap.String("resolution", string(params.Resolution)),
		zap.String("admin_id", params.AdminID),
		zap.Int("refunded", outcome.Refunded),
		zap.Int("forfeited", outcome.Forfeited),
		zap.Int("unfrozen", outcome.Unfrozen),
	)
	return ResolveResult{Dispute: resolved, Outcome: outcome}, nil
}

// Get returns one dispute, restricted to its filer unless admin is set.
func (s *Service) Get(ctx context.Context, disputeID, userID string, admin bool) (Record, error) {
	rec, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if !admin && rec.RaisedBy != userID {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListForUser returns the caller's disputes.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	return s.store.ListForUser(ctx, userID)
}

// ListAll returns every dispute for the admin view, optionally filtered by
// status.
func (s *Service) ListAll(ctx context.Context, status Status) ([]Record, error) {
	return s.store.ListAll(ctx, status)
}

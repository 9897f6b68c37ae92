package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pawpool/contract"
	"pawpool/gateway"
	"pawpool/payment"
)

// ErrActiveDispute blocks release and cancellation while a dispute is open
// or under review on the contract.
var ErrActiveDispute = errors.New("pool: active dispute exists for contract")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PaymentStore is the payment-side data access the engine needs.
type PaymentStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (payment.Payment, error)
	ListPooled(ctx context.Context, tx pgx.Tx, contractID string, types []payment.Type, poolStatus payment.PoolStatus) ([]payment.Payment, error)
	UpdatePoolStatus(ctx context.Context, tx pgx.Tx, id string, from, to payment.PoolStatus) error
	SetGatewayRefundID(ctx context.Context, tx pgx.Tx, id, refundID string) error
}

// LedgerStore is the ledger-side data access the engine needs.
type LedgerStore interface {
	Insert(ctx context.Context, tx pgx.Tx, params InsertTxParams) (Transaction, error)
	FreezeLatestCompleted(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error)
	RestoreFrozen(ctx context.Context, tx pgx.Tx, contractID string) (int, error)
}

// DisputeGuard answers whether a contract currently has an unresolved
// dispute. Implemented by the dispute repository.
type DisputeGuard interface {
	ActiveExists(ctx context.Context, tx pgx.Tx, contractID string) (bool, error)
}

var poolableTypes = []payment.Type{
	payment.TypeCollateral,
	payment.TypeShooterPayment,
	payment.TypeShooterCollateral,
}

var collateralTypes = []payment.Type{
	payment.TypeCollateral,
	payment.TypeShooterCollateral,
}

// Engine orchestrates every pool mutation. Each exported operation runs in
// one transaction with row locks on the affected payments, so concurrent
// attempts on the same contract serialize at the database.
type Engine struct {
	pool     TxBeginner
	payments PaymentStore
	ledger   LedgerStore
	disputes DisputeGuard
	gw       gateway.Client
	log      *zap.Logger
}

func NewEngine(pool TxBeginner, payments PaymentStore, ledger LedgerStore, disputes DisputeGuard, gw gateway.Client, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		pool:     pool,
		payments: payments,
		ledger:   ledger,
		disputes: disputes,
		gw:       gw,
		log:      log,
	}
}

// DepositResult reports the outcome of DepositToPool.
type DepositResult struct {
	Deposited   bool
	Transaction Transaction
}

// ReleaseResult reports a release pass over a contract's payments.
type ReleaseResult struct {
	Released int
	Failed   int
}

// CancellationResult reports a cancellation pass.
type CancellationResult struct {
	Processed int
	Failed    int
}

// ResolutionOutcome reports how a dispute resolution moved funds.
type ResolutionOutcome struct {
	Refunded  int
	Forfeited int
	Unfrozen  int
	Failed    int
}

// DepositToPool books an already-captured payment into the contract pool.
// Non-poolable, unpaid, or already-pooled payments are a silent no-op so
// callers may invoke it speculatively on any payment; the status guard makes
// a second call on the same payment idempotent.
func (e *Engine) DepositToPool(ctx context.Context, paymentID string) (DepositResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return DepositResult{}, fmt.Errorf("pool: begin deposit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := e.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return DepositResult{}, err
	}

	if !p.Type.Poolable() || p.Status != payment.StatusPaid || p.PoolStatus != payment.PoolNotPooled {
		e.log.Debug("deposit skipped",
			zap.String("payment_id", p.ID),
			zap.String("payment_type", string(p.Type)),
			zap.String("pool_status", string(p.PoolStatus)),
		)
		return DepositResult{}, nil
	}

	t, err := e.ledger.Insert(ctx, tx, InsertTxParams{
		PaymentID:    &p.ID,
		ContractID:   p.ContractID,
		UserID:       p.UserID,
		Type:         TxDeposit,
		Amount:       p.Amount,
		BalanceAfter: p.Amount,
		Status:       TxCompleted,
		Description:  fmt.Sprintf("Pool deposit for %s - contract %s", p.Type, p.ContractID),
	})
	if err != nil {
		return DepositResult{}, err
	}

	if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, payment.PoolNotPooled, payment.PoolInPool); err != nil {
		return DepositResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DepositResult{}, fmt.Errorf("pool: commit deposit: %w", err)
	}

	e.log.Info("payment deposited to pool",
		zap.String("payment_id", p.ID),
		zap.String("contract_id", p.ContractID),
		zap.String("amount", p.Amount.String()),
	)
	return DepositResult{Deposited: true, Transaction: t}, nil
}

// ReleaseCollateral refunds every pooled owner collateral for a fulfilled
// contract back to its payer.
func (e *Engine) ReleaseCollateral(ctx context.Context, contractID string) (ReleaseResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("pool: begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.guardNoActiveDispute(ctx, tx, contractID); err != nil {
		return ReleaseResult{}, err
	}

	payments, err := e.payments.ListPooled(ctx, tx, contractID, []payment.Type{payment.TypeCollateral}, payment.PoolInPool)
	if err != nil {
		return ReleaseResult{}, err
	}

	var result ReleaseResult
	for _, p := range payments {
		ok, err := e.settleFull(ctx, tx, p, settleRelease, payment.PoolRefunded, "Contract fulfilled - collateral return")
		if err != nil {
			return ReleaseResult{}, err
		}
		if ok {
			result.Released++
		} else {
			result.Failed++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReleaseResult{}, fmt.Errorf("pool: commit release: %w", err)
	}
	return result, nil
}

// ReleaseShooterPayment settles the shooter's service payment on breeding
// completion and then returns any pooled shooter collateral. The two are
// independent per-payment operations; a failed payment refund does not
// block the collateral attempt.
func (e *Engine) ReleaseShooterPayment(ctx context.Context, contractID string) (ReleaseResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("pool: begin shooter release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.guardNoActiveDispute(ctx, tx, contractID); err != nil {
		return ReleaseResult{}, err
	}

	var result ReleaseResult

	shooterPayments, err := e.payments.ListPooled(ctx, tx, contractID, []payment.Type{payment.TypeShooterPayment}, payment.PoolInPool)
	if err != nil {
		return ReleaseResult{}, err
	}
	for _, p := range shooterPayments {
		ok, err := e.settleFull(ctx, tx, p, settleRelease, payment.PoolReleased, "Shooter payment released - breeding completed")
		if err != nil {
			return ReleaseResult{}, err
		}
		if ok {
			result.Released++
		} else {
			result.Failed++
		}
	}

	shooterCollateral, err := e.payments.ListPooled(ctx, tx, contractID, []payment.Type{payment.TypeShooterCollateral}, payment.PoolInPool)
	if err != nil {
		return ReleaseResult{}, err
	}
	for _, p := range shooterCollateral {
		ok, err := e.settleFull(ctx, tx, p, settleRelease, payment.PoolRefunded, "Shooter collateral return - breeding completed")
		if err != nil {
			return ReleaseResult{}, err
		}
		if ok {
			result.Released++
		} else {
			result.Failed++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReleaseResult{}, fmt.Errorf("pool: commit shooter release: %w", err)
	}
	return result, nil
}

// HandleCancellation settles all pooled collateral when a contract is
// cancelled. The cancelling party pays the contract's cancellation fee out
// of their own collateral; everyone else is refunded in full. Gateway
// failures are recorded and counted without aborting the pass.
func (e *Engine) HandleCancellation(ctx context.Context, c contract.Contract, cancellingUserID string) (CancellationResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return CancellationResult{}, fmt.Errorf("pool: begin cancellation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.guardNoActiveDispute(ctx, tx, c.ID); err != nil {
		return CancellationResult{}, err
	}

	payments, err := e.payments.ListPooled(ctx, tx, c.ID, collateralTypes, payment.PoolInPool)
	if err != nil {
		return CancellationResult{}, err
	}

	var result CancellationResult
	for _, p := range payments {
		var ok bool
		if cancellingUserID != "" && p.UserID == cancellingUserID {
			ok, err = e.settleWithPenalty(ctx, tx, p, c.CancellationFeePercentage)
		} else {
			ok, err = e.settleFull(ctx, tx, p, settleRefund, payment.PoolRefunded, "Contract cancelled - full refund")
		}
		if err != nil {
			return CancellationResult{}, err
		}
		result.Processed++
		if !ok {
			result.Failed++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CancellationResult{}, fmt.Errorf("pool: commit cancellation: %w", err)
	}
	return result, nil
}

// FreezeFunds moves every pooled payment of the contract to frozen and
// flips each payment's latest completed ledger entry to frozen. It runs
// inside the caller's transaction so dispute creation and the freeze commit
// atomically, before any release can race ahead.
func (e *Engine) FreezeFunds(ctx context.Context, tx pgx.Tx, contractID, disputeID string) (int, error) {
	payments, err := e.payments.ListPooled(ctx, tx, contractID, poolableTypes, payment.PoolInPool)
	if err != nil {
		return 0, err
	}

	for _, p := range payments {
		if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, payment.PoolInPool, payment.PoolFrozen); err != nil {
			return 0, err
		}
		if _, err := e.ledger.FreezeLatestCompleted(ctx, tx, p.ID); err != nil {
			return 0, err
		}
	}

	e.log.Info("contract funds frozen",
		zap.String("contract_id", contractID),
		zap.String("dispute_id", disputeID),
		zap.Int("payments_frozen", len(payments)),
	)
	return len(payments), nil
}

// UnfreezeContractFunds restores a contract's frozen payments to in_pool
// and their ledger entries to completed. Used for manual admin unfreeze;
// dispute resolutions use the tx-scoped variant.
func (e *Engine) UnfreezeContractFunds(ctx context.Context, contractID string) (int, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pool: begin unfreeze tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := e.unfreeze(ctx, tx, contractID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pool: commit unfreeze: %w", err)
	}
	return n, nil
}

// ExecuteResolution applies a dispute resolution to the contract's frozen
// funds inside the caller's transaction. Funds are first restored to
// in_pool, then refunded or forfeited according to the resolution; with
// release_funds the restore itself is the whole outcome.
func (e *Engine) ExecuteResolution(ctx context.Context, tx pgx.Tx, c contract.Contract, disputeID, raisedBy string, res Resolution) (ResolutionOutcome, error) {
	if !ValidResolution(res) {
		return ResolutionOutcome{}, fmt.Errorf("pool: invalid resolution %q", res)
	}

	unfrozen, err := e.unfreeze(ctx, tx, c.ID)
	if err != nil {
		return ResolutionOutcome{}, err
	}
	outcome := ResolutionOutcome{Unfrozen: unfrozen}

	if res == ResolutionReleaseFunds {
		e.log.Info("dispute resolved, funds released for normal settlement",
			zap.String("contract_id", c.ID),
			zap.String("dispute_id", disputeID),
		)
		return outcome, nil
	}

	payments, err := e.payments.ListPooled(ctx, tx, c.ID, poolableTypes, payment.PoolInPool)
	if err != nil {
		return ResolutionOutcome{}, err
	}

	for _, p := range payments {
		switch {
		case res == ResolutionForfeit && p.UserID == raisedBy:
			if err := e.forfeitPayment(ctx, tx, p, disputeID); err != nil {
				return ResolutionOutcome{}, err
			}
			outcome.Forfeited++
		default:
			desc := fmt.Sprintf("Dispute %s resolved - full refund", disputeID)
			if res == ResolutionForfeit {
				desc = fmt.Sprintf("Dispute %s resolved - refund to non-disputing party", disputeID)
			}
			ok, err := e.settleFull(ctx, tx, p, settleRefund, payment.PoolRefunded, desc)
			if err != nil {
				return ResolutionOutcome{}, err
			}
			if ok {
				outcome.Refunded++
			} else {
				outcome.Failed++
			}
		}
	}

	return outcome, nil
}

func (e *Engine) guardNoActiveDispute(ctx context.Context, tx pgx.Tx, contractID string) error {
	active, err := e.disputes.ActiveExists(ctx, tx, contractID)
	if err != nil {
		return err
	}
	if active {
		e.log.Warn("pool operation blocked by active dispute", zap.String("contract_id", contractID))
		return ErrActiveDispute
	}
	return nil
}

func (e *Engine) unfreeze(ctx context.Context, tx pgx.Tx, contractID string) (int, error) {
	payments, err := e.payments.ListPooled(ctx, tx, contractID, poolableTypes, payment.PoolFrozen)
	if err != nil {
		return 0, err
	}
	for _, p := range payments {
		if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, payment.PoolFrozen, payment.PoolInPool); err != nil {
			return 0, err
		}
	}
	if _, err := e.ledger.RestoreFrozen(ctx, tx, contractID); err != nil {
		return 0, err
	}

	e.log.Info("contract funds unfrozen",
		zap.String("contract_id", contractID),
		zap.Int("payments_unfrozen", len(payments)),
	)
	return len(payments), nil
}

type settleType int

const (
	settleRelease settleType = iota
	settleRefund
)

func (t settleType) txType() TxType {
	if t == settleRelease {
		return TxRelease
	}
	return TxRefund
}

// settleFull returns a payment's entire pooled amount to its payer. The
// three outcomes mirror the safe-state rules: no gateway reference means a
// pending release entry with the status advanced (manual settlement);
// gateway success means a completed entry and the final status; gateway
// failure means a pending refund entry with the status untouched so the
// operation can be retried.
func (e *Engine) settleFull(ctx context.Context, tx pgx.Tx, p payment.Payment, st settleType, final payment.PoolStatus, desc string) (bool, error) {
	return e.settle(ctx, tx, p, p.Amount, p.Amount, decimal.Zero, st, final, desc)
}

func (e *Engine) settle(ctx context.Context, tx pgx.Tx, p payment.Payment, amount, pooledNow, balanceAfter decimal.Decimal, st settleType, final payment.PoolStatus, desc string) (bool, error) {
	if !p.Refundable() {
		if _, err := e.ledger.Insert(ctx, tx, InsertTxParams{
			PaymentID:    &p.ID,
			ContractID:   p.ContractID,
			UserID:       p.UserID,
			Type:         TxRelease,
			Amount:       amount,
			BalanceAfter: balanceAfter,
			Status:       TxPending,
			Description:  desc + " - no gateway reference, manual settlement required",
		}); err != nil {
			return false, err
		}
		if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, p.PoolStatus, payment.PoolReleased); err != nil {
			return false, err
		}
		e.log.Warn("payment settled without gateway refund",
			zap.String("payment_id", p.ID),
			zap.String("contract_id", p.ContractID),
		)
		return true, nil
	}

	refund, err := e.gw.CreateRefund(ctx, *p.GatewayPaymentID, amount)
	if err != nil {
		if _, insErr := e.ledger.Insert(ctx, tx, InsertTxParams{
			PaymentID:    &p.ID,
			ContractID:   p.ContractID,
			UserID:       p.UserID,
			Type:         TxRefund,
			Amount:       amount,
			BalanceAfter: pooledNow,
			Status:       TxPending,
			Description:  fmt.Sprintf("%s - PENDING (refund failed: %v)", desc, err),
		}); insErr != nil {
			return false, insErr
		}
		e.log.Error("gateway refund failed, ledger entry pending",
			zap.String("payment_id", p.ID),
			zap.String("contract_id", p.ContractID),
			zap.Error(err),
		)
		return false, nil
	}

	if _, err := e.ledger.Insert(ctx, tx, InsertTxParams{
		PaymentID:    &p.ID,
		ContractID:   p.ContractID,
		UserID:       p.UserID,
		Type:         st.txType(),
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Status:       TxCompleted,
		Description:  desc,
	}); err != nil {
		return false, err
	}
	if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, p.PoolStatus, final); err != nil {
		return false, err
	}
	if err := e.payments.SetGatewayRefundID(ctx, tx, p.ID, refund.RefundID); err != nil {
		return false, err
	}

	e.log.Info("payment settled",
		zap.String("payment_id", p.ID),
		zap.String("contract_id", p.ContractID),
		zap.String("amount", amount.String()),
		zap.String("refund_id", refund.RefundID),
		zap.String("final_status", string(final)),
	)
	return true, nil
}

// settleWithPenalty deducts the cancellation fee from the cancelling
// party's collateral and refunds the remainder. The fee stays in the pool
// as a cancellation_penalty entry. The penalty is booked only after the
// refund goes through: a failed refund leaves just a pending entry, so a
// retried cancellation cannot assess the fee twice.
func (e *Engine) settleWithPenalty(ctx context.Context, tx pgx.Tx, p payment.Payment, feePct decimal.Decimal) (bool, error) {
	fee := p.Amount.Mul(feePct).Div(decimal.NewFromInt(100)).Round(2)
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(p.Amount) {
		fee = p.Amount
	}
	remainder := p.Amount.Sub(fee)

	if remainder.IsPositive() {
		ok, err := e.settle(ctx, tx, p, remainder, p.Amount, fee,
			settleRefund, payment.PoolPartiallyRefunded, "Partial refund after cancellation penalty")
		if err != nil || !ok {
			return ok, err
		}
	} else {
		// Fee consumed the whole stake; nothing to send back.
		if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, p.PoolStatus, payment.PoolRefunded); err != nil {
			return false, err
		}
	}

	if fee.IsPositive() {
		if _, err := e.ledger.Insert(ctx, tx, InsertTxParams{
			PaymentID:    &p.ID,
			ContractID:   p.ContractID,
			UserID:       p.UserID,
			Type:         TxCancellationPenalty,
			Amount:       fee,
			BalanceAfter: decimal.Zero,
			Status:       TxCompleted,
			Description:  fmt.Sprintf("Cancellation penalty (%s%%)", feePct.String()),
		}); err != nil {
			return false, err
		}
	}

	return true, nil
}

// forfeitPayment consumes the disputant's stake: the money stays in the
// pool as a fee_deduction entry and no gateway refund is ever issued.
func (e *Engine) forfeitPayment(ctx context.Context, tx pgx.Tx, p payment.Payment, disputeID string) error {
	if _, err := e.ledger.Insert(ctx, tx, InsertTxParams{
		PaymentID:    &p.ID,
		ContractID:   p.ContractID,
		UserID:       p.UserID,
		Type:         TxFeeDeduction,
		Amount:       p.Amount,
		BalanceAfter: decimal.Zero,
		Status:       TxCompleted,
		Description:  fmt.Sprintf("Dispute %s - funds forfeited", disputeID),
	}); err != nil {
		return err
	}
	if err := e.payments.UpdatePoolStatus(ctx, tx, p.ID, p.PoolStatus, payment.PoolReleased); err != nil {
		return err
	}

	e.log.Info("disputant funds forfeited",
		zap.String("payment_id", p.ID),
		zap.String("contract_id", p.ContractID),
		zap.String("amount", p.Amount.String()),
	)
	return nil
}

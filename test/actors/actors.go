package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pawpool/contract"
	"pawpool/dispute"
	"pawpool/gateway"
	"pawpool/pool"
)

// FlakyGateway simulates a payment gateway with partial outages. FailRate is
// the percentage of refund calls that come back declined.
type FlakyGateway struct {
	FailRate int
}

func (g *FlakyGateway) CreateRefund(ctx context.Context, paymentRef string, amount decimal.Decimal) (gateway.RefundResult, error) {
	if rand.Intn(100) < g.FailRate {
		return gateway.RefundResult{}, &gateway.RefundError{PaymentRef: paymentRef, Reason: "simulated outage"}
	}
	return gateway.RefundResult{RefundID: "ref_" + uuid.NewString(), Status: "succeeded"}, nil
}

// Actors never assert; the oracles do. Business-rule conflicts are the whole
// point of the contention, and everything else (chaos-killed backends, lock
// timeouts) is transient, so errors are swallowed and the loop retries.
// Context cancellation is the only way an actor stops with an error.
func done(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Depositor keeps feeding the pool: each iteration inserts a fresh paid
// collateral payment for the contract and books it in through the engine.
func Depositor(ctx context.Context, db *pgxpool.Pool, eng *pool.Engine, contractID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var paymentID string
		err := db.QueryRow(ctx, `
			INSERT INTO payments (user_id, contract_id, payment_type, amount, status, pool_status, gateway_payment_id, paid_at)
			VALUES ($1, $2, 'collateral', 1000.00, 'paid', 'not_pooled', $3, now())
			RETURNING id
		`, userID, contractID, fmt.Sprintf("pay_%d", rand.Int63())).Scan(&paymentID)
		if err != nil {
			if done(ctx, err) {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if _, err := eng.DepositToPool(ctx, paymentID); err != nil && done(ctx, err) {
			return ctx.Err()
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Releaser races to settle the contract's pooled collateral. Active disputes
// are expected to block it some of the time.
func Releaser(ctx context.Context, eng *pool.Engine, contractID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := eng.ReleaseCollateral(ctx, contractID); err != nil && done(ctx, err) {
			return ctx.Err()
		}
		time.Sleep(time.Duration(20+rand.Intn(50)) * time.Millisecond)
	}
}

// Canceller runs cancellation passes against the same contract the releaser
// is settling, with the fee falling on the cancelling owner.
func Canceller(ctx context.Context, eng *pool.Engine, c contract.Contract, cancellingUserID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := eng.HandleCancellation(ctx, c, cancellingUserID); err != nil && done(ctx, err) {
			return ctx.Err()
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Disputer files disputes and, once in a while, resolves them as admin with
// a random resolution. Duplicate filings lose the partial-index race and are
// expected.
func Disputer(ctx context.Context, svc *dispute.Service, contractID, raisedBy, adminID string, stop <-chan struct{}) error {
	resolutions := []pool.Resolution{
		pool.ResolutionRefundFull,
		pool.ResolutionForfeit,
		pool.ResolutionReleaseFunds,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		result, err := svc.File(ctx, dispute.FileParams{
			ContractID: contractID,
			RaisedBy:   raisedBy,
			Reason:     "stress: contested breeding outcome on this contract",
		})
		if err != nil && done(ctx, err) {
			return ctx.Err()
		}

		if err == nil {
			// Let the freeze window be observable before resolving.
			time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
			_, err = svc.Resolve(ctx, dispute.ResolveParams{
				DisputeID:  result.Dispute.ID,
				Resolution: resolutions[rand.Intn(len(resolutions))],
				AdminNote:  "stress resolution",
				AdminID:    adminID,
			})
			if err != nil && done(ctx, err) {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(150)) * time.Millisecond)
	}
}

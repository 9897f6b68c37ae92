package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies an inbound money event.
type Type string

const (
	TypeCollateral        Type = "collateral"
	TypeShooterPayment    Type = "shooter_payment"
	TypeShooterCollateral Type = "shooter_collateral"
	TypeSubscription      Type = "subscription"
	TypeOther             Type = "other"
)

// Poolable reports whether payments of this type are held in the contract
// pool. Subscriptions and miscellaneous payments never enter the pool.
func (t Type) Poolable() bool {
	switch t {
	case TypeCollateral, TypeShooterPayment, TypeShooterCollateral:
		return true
	default:
		return false
	}
}

// CollateralKind reports whether the type is a refundable collateral stake
// (owner collateral or shooter collateral), as opposed to a service payment.
func (t Type) CollateralKind() bool {
	return t == TypeCollateral || t == TypeShooterCollateral
}

// Status is the gateway-side payment status.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// PoolStatus is the per-payment custody stage inside the pool.
type PoolStatus string

const (
	PoolNotPooled         PoolStatus = "not_pooled"
	PoolInPool            PoolStatus = "in_pool"
	PoolFrozen            PoolStatus = "frozen"
	PoolReleased          PoolStatus = "released"
	PoolRefunded          PoolStatus = "refunded"
	PoolPartiallyRefunded PoolStatus = "partially_refunded"
)

// poolTransitions is the only legal movement graph for PoolStatus. The
// frozen<->in_pool edge is the dispute freeze/unfreeze cycle; everything
// else is forward-only and the settled states are terminal.
var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolNotPooled: {PoolInPool},
	PoolInPool:    {PoolFrozen, PoolReleased, PoolRefunded, PoolPartiallyRefunded},
	PoolFrozen:    {PoolInPool},
}

// CanTransition reports whether from -> to is on the pool status graph.
func CanTransition(from, to PoolStatus) bool {
	for _, next := range poolTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment mirrors the payments table. It is a historical record: rows are
// never deleted, and the pool status only moves along poolTransitions.
type Payment struct {
	ID               string
	UserID           string
	ContractID       string
	Type             Type
	Amount           decimal.Decimal
	Status           Status
	PoolStatus       PoolStatus
	GatewayPaymentID *string
	GatewayRefundID  *string
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Refundable reports whether the payment can be refunded through the
// gateway. Payments without a gateway reference settle manually.
func (p Payment) Refundable() bool {
	return p.GatewayPaymentID != nil && *p.GatewayPaymentID != ""
}

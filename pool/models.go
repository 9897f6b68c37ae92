package pool

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType classifies a ledger movement.
type TxType string

const (
	TxDeposit             TxType = "deposit"
	TxRelease             TxType = "release"
	TxRefund              TxType = "refund"
	TxCancellationPenalty TxType = "cancellation_penalty"
	TxFeeDeduction        TxType = "fee_deduction"
)

// TxStatus is the ledger entry status. Entries are immutable except for the
// frozen<->completed flips during a dispute and the pending->completed flip
// when a gateway refund is later confirmed.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFrozen    TxStatus = "frozen"
)

// Transaction is one immutable ledger entry. BalanceAfter tracks the
// remaining pooled amount of the originating payment after this movement;
// each payment's entries form their own running chain.
type Transaction struct {
	ID           string
	PaymentID    *string
	ContractID   string
	UserID       string
	Type         TxType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Status       TxStatus
	Description  string
	ProcessedAt  time.Time
	CreatedAt    time.Time
}

// Resolution is the engine-level instruction for settling a dispute.
type Resolution string

const (
	ResolutionRefundFull   Resolution = "refund_full"
	ResolutionForfeit      Resolution = "forfeit"
	ResolutionReleaseFunds Resolution = "release_funds"
)

// ValidResolution reports whether r is one of the supported outcomes.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionRefundFull, ResolutionForfeit, ResolutionReleaseFunds:
		return true
	default:
		return false
	}
}

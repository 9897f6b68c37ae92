package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RefundResult reports a refund accepted by the gateway.
type RefundResult struct {
	RefundID string
	Status   string
}

// Client is the only gateway capability the pool engine consumes. Checkout
// and capture live elsewhere; the engine never creates charges.
type Client interface {
	// CreateRefund asks the gateway to return amount to the payer of the
	// referenced payment. A *RefundError means the gateway declined or
	// failed the refund; callers treat that as recoverable.
	CreateRefund(ctx context.Context, paymentRef string, amount decimal.Decimal) (RefundResult, error)
}

// RefundError is a refund the gateway rejected or could not complete.
type RefundError struct {
	PaymentRef string
	Reason     string
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("gateway: refund for %s failed: %s", e.PaymentRef, e.Reason)
}

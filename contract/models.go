package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the contract lifecycle as owned by the contract workflow. The
// pool engine only reads it; it never moves a contract between states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// Contract is the read model of a breeding contract as seen by the escrow
// core. Terms are immutable from this side.
type Contract struct {
	ID                        string
	Owner1UserID              string
	Owner2UserID              string
	ShooterUserID             *string
	CollateralTotal           decimal.Decimal
	CollateralPerOwner        decimal.Decimal
	CancellationFeePercentage decimal.Decimal
	Status                    Status
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// IsParty reports whether userID is one of the contract's participants
// (either owner, or the engaged shooter).
func (c Contract) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	if c.Owner1UserID == userID || c.Owner2UserID == userID {
		return true
	}
	return c.ShooterUserID != nil && *c.ShooterUserID == userID
}

// Disputable reports whether a dispute may be raised against the contract.
func (c Contract) Disputable() bool {
	return c.Status == StatusAccepted || c.Status == StatusFulfilled
}

package dispute

import (
	"time"

	"pawpool/pool"
)

// Status represents the lifecycle of a dispute record. Review is optional;
// an admin may resolve straight from open. Resolved is terminal.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Record mirrors the disputes table.
type Record struct {
	ID             string
	ContractID     string
	RaisedBy       string
	Reason         string
	Status         Status
	ResolutionType *pool.Resolution
	AdminNote      *string
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the dispute still blocks pool operations on its
// contract.
func (r Record) Active() bool {
	return r.Status == StatusOpen || r.Status == StatusUnderReview
}

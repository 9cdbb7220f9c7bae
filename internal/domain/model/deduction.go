package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DeductionStatus string

const (
	DeductionStatusPending DeductionStatus = "pending" // sent to gateway; awaiting outcome
	DeductionStatusSuccess DeductionStatus = "success" // gateway confirmed the charge
	DeductionStatusFailed  DeductionStatus = "failed"  // charge failed, may be retried
	DeductionStatusClosed  DeductionStatus = "closed"  // retries exhausted or stop-classified
)

// DeductionAttempt records one auto-renewal charge against a contract.
type DeductionAttempt struct {
	ID            string // ULID
	ContractID    string
	EntitlementID string          // the entitlement being renewed
	Amount        decimal.Decimal // minor units
	Status        DeductionStatus
	RetryCount    int
	NextRetryAt   *time.Time
	FailCode      string // gateway error code from the last failure
	FailReason    string // human-readable reason surfaced to the user
	TransactionID string // gateway transaction id on success
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Retryable reports whether the attempt is due for another try.
func (d *DeductionAttempt) Retryable(now time.Time) bool {
	if d.Status != DeductionStatusFailed {
		return false
	}
	return d.NextRetryAt == nil || !d.NextRetryAt.After(now)
}

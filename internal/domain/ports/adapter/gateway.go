package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

type DeductStatus string

const (
	DeductStatusPaid    DeductStatus = "paid"
	DeductStatusPending DeductStatus = "pending"
	DeductStatusFailed  DeductStatus = "failed"
)

// DeductResult is the provider-agnostic outcome of a deduction call.
type DeductResult struct {
	Status        DeductStatus
	TransactionID string
	ErrorCode     string // provider failure classification, empty on success
}

// DeductionGateway is the hex port for payment providers executing
// mandate-backed charges. Calls must honor ctx deadlines; the engine wraps
// every call in a bounded timeout so a slow provider cannot pin a user lock.
type DeductionGateway interface {
	Name() string

	// ApplyDeduct charges the contract for the given amount in minor units.
	ApplyDeduct(ctx context.Context, contractRef string, amount decimal.Decimal) (DeductResult, error)

	// Query returns the provider-side state of a previously submitted attempt.
	Query(ctx context.Context, attemptRef string) (DeductResult, error)
}

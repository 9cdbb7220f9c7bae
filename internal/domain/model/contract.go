package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractStatusSigned   ContractStatus = "signed"
	ContractStatusUnsigned ContractStatus = "unsigned"
	ContractStatusSigning  ContractStatus = "signing"
	ContractStatusFailed   ContractStatus = "failed"
)

// Contract is a signed payment mandate authorizing recurring deductions.
// It is created and signed outside this engine; we only read it.
type Contract struct {
	ID            string
	UserID        string
	Status        ContractStatus
	DeductAmount  decimal.Decimal // minor units
	PaymentMethod string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deductible reports whether the mandate can be charged.
func (c *Contract) Deductible() bool {
	return c.Status == ContractStatusSigned && c.DeductAmount.IsPositive()
}
